package postgres

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"

	"eventpipe/internal/core/domain/credential"
)

// CredentialStore looks up API-key credentials from the local `credentials`
// table, a synced cache of the external master credential store, fronted by
// an in-process LRU so the ingest hot path avoids a round-trip per request.
type CredentialStore struct {
	db    *gorm.DB
	cache *lru.Cache[string, credential.Credential]
}

// NewCredentialStore constructs a CredentialStore with an LRU front cache of
// the given size.
func NewCredentialStore(db *gorm.DB, cacheSize int) (*CredentialStore, error) {
	cache, err := lru.New[string, credential.Credential](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("credentialstore: new lru: %w", err)
	}
	return &CredentialStore{db: db, cache: cache}, nil
}

var _ credential.Store = (*CredentialStore)(nil)

// LookupByHash resolves an API-key hash to its owning credential, checking
// the LRU cache before falling back to Postgres.
func (s *CredentialStore) LookupByHash(ctx context.Context, apiKeyHash string) (credential.Credential, error) {
	if cred, ok := s.cache.Get(apiKeyHash); ok {
		return cred, nil
	}

	var row credentialRow
	err := s.db.WithContext(ctx).Where("api_key_hash = ?", apiKeyHash).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credential.Credential{}, credential.ErrNotFound
		}
		return credential.Credential{}, fmt.Errorf("credentialstore: lookup: %w", err)
	}

	cred := credential.Credential{
		UserID:    row.UserID,
		Role:      row.Role,
		RevokedAt: row.RevokedAt,
		ExpiresAt: row.ExpiresAt,
	}
	s.cache.Add(apiKeyHash, cred)
	return cred, nil
}

// Invalidate evicts a cached credential, used when a key is revoked out of band.
func (s *CredentialStore) Invalidate(apiKeyHash string) {
	s.cache.Remove(apiKeyHash)
}
