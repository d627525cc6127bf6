package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"eventpipe/internal/core/domain/credential"
)

func setupCredentialDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&credentialRow{}))
	return db
}

func TestCredentialStore_LookupByHash_Found(t *testing.T) {
	db := setupCredentialDB(t)
	require.NoError(t, db.Create(&credentialRow{APIKeyHash: "hash-1", UserID: "user-a", Role: "producer"}).Error)

	store, err := NewCredentialStore(db, 16)
	require.NoError(t, err)

	cred, err := store.LookupByHash(context.Background(), "hash-1")
	require.NoError(t, err)
	require.Equal(t, "user-a", cred.UserID)
	require.Equal(t, "producer", cred.Role)
}

func TestCredentialStore_LookupByHash_NotFound(t *testing.T) {
	db := setupCredentialDB(t)
	store, err := NewCredentialStore(db, 16)
	require.NoError(t, err)

	_, err = store.LookupByHash(context.Background(), "missing")
	require.ErrorIs(t, err, credential.ErrNotFound)
}

func TestCredentialStore_LookupByHash_CachesAcrossInvalidate(t *testing.T) {
	db := setupCredentialDB(t)
	require.NoError(t, db.Create(&credentialRow{APIKeyHash: "hash-2", UserID: "user-b", Role: "producer"}).Error)

	store, err := NewCredentialStore(db, 16)
	require.NoError(t, err)

	_, err = store.LookupByHash(context.Background(), "hash-2")
	require.NoError(t, err)

	// Revoke out of band in the underlying table without telling the cache.
	revokedAt := time.Now().UTC()
	require.NoError(t, db.Model(&credentialRow{}).Where("api_key_hash = ?", "hash-2").
		Update("revoked_at", revokedAt).Error)

	cached, err := store.LookupByHash(context.Background(), "hash-2")
	require.NoError(t, err)
	require.False(t, cached.Revoked(), "stale cache entry should still win until invalidated")

	store.Invalidate("hash-2")

	fresh, err := store.LookupByHash(context.Background(), "hash-2")
	require.NoError(t, err)
	require.True(t, fresh.Revoked())
}
