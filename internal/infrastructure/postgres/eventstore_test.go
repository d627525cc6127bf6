package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"eventpipe/internal/core/domain/event"
	"eventpipe/internal/infrastructure/database"
)

// setupShardDB opens an in-memory SQLite database and creates the shard
// tables BulkInsert writes into. The DDL here is SQLite-friendly (no
// jsonb/timestamptz) and stands in for createShardTable's Postgres SQL.
func setupShardDB(t *testing.T, shards int) *database.PostgresDB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	for i := 0; i < shards; i++ {
		ddl := `CREATE TABLE ` + shardName(i) + ` (
			event_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			priority INTEGER NOT NULL DEFAULT 1,
			metadata TEXT,
			payload TEXT,
			ingested_at DATETIME NOT NULL,
			source_user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
		require.NoError(t, db.Exec(ddl).Error)
	}

	return &database.PostgresDB{DB: db}
}

func sampleEvent(id, userID string) event.Event {
	now := time.Now().UTC()
	return event.Event{
		EventID:      id,
		UserID:       userID,
		SessionID:    "sess-1",
		EventType:    "page.viewed",
		Timestamp:    now,
		Priority:     1,
		Metadata:     map[string]interface{}{"k": "v"},
		Payload:      map[string]interface{}{"p": 1.0},
		IngestedAt:   now,
		SourceUserID: userID,
	}
}

func TestEventStore_BulkInsert_Inserts(t *testing.T) {
	pg := setupShardDB(t, 1)
	store := NewEventStore(pg, 1)

	events := []event.Event{
		sampleEvent("evt-1", "user-a"),
		sampleEvent("evt-2", "user-a"),
	}

	inserted, conflicted, err := store.BulkInsert(context.Background(), events)
	require.NoError(t, err)
	require.Equal(t, 2, inserted)
	require.Equal(t, 0, conflicted)
}

func TestEventStore_BulkInsert_ConflictIsSwallowed(t *testing.T) {
	pg := setupShardDB(t, 1)
	store := NewEventStore(pg, 1)

	first := []event.Event{sampleEvent("evt-dup", "user-a")}
	_, _, err := store.BulkInsert(context.Background(), first)
	require.NoError(t, err)

	inserted, conflicted, err := store.BulkInsert(context.Background(), first)
	require.NoError(t, err)
	require.Equal(t, 0, inserted)
	require.Equal(t, 1, conflicted)
}

func TestEventStore_BulkInsert_Empty(t *testing.T) {
	pg := setupShardDB(t, 1)
	store := NewEventStore(pg, 1)

	inserted, conflicted, err := store.BulkInsert(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, inserted)
	require.Equal(t, 0, conflicted)
}

func TestShardTable_IsStableAndBounded(t *testing.T) {
	for _, userID := range []string{"user-a", "user-b", "another-user"} {
		table := shardTable(userID, 4)
		again := shardTable(userID, 4)
		require.Equal(t, table, again, "sharding must be deterministic per user")
		require.Contains(t, []string{"events_0", "events_1", "events_2", "events_3"}, table, "shard index must stay below the shard count")
	}
}
