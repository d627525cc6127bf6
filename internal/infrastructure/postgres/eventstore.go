package postgres

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"eventpipe/internal/core/domain/event"
	"eventpipe/internal/infrastructure/database"
)

// EventStore is the sharded-by-user_id document collection workers
// bulk-insert into. Sharding is logical: one physical table per shard,
// chosen by FNV-32a(user_id) % shards.
type EventStore struct {
	db     *database.PostgresDB
	shards int
}

func NewEventStore(db *database.PostgresDB, shards int) *EventStore {
	return &EventStore{db: db, shards: shards}
}

var _ event.Store = (*EventStore)(nil)

// BulkInsert writes events to their shard tables with ordered=false-equivalent
// semantics: a per-document unique-key conflict on event_id is swallowed and
// counted as already-persisted rather than failing the whole batch.
func (s *EventStore) BulkInsert(ctx context.Context, events []event.Event) (inserted int, conflicted int, err error) {
	if len(events) == 0 {
		return 0, 0, nil
	}

	byShard := make(map[string][]eventRow)
	for _, e := range events {
		row, marshalErr := toEventRow(e)
		if marshalErr != nil {
			return inserted, conflicted, fmt.Errorf("eventstore: marshal %s: %w", e.EventID, marshalErr)
		}
		table := shardTable(e.UserID, s.shards)
		byShard[table] = append(byShard[table], row)
	}

	for table, rows := range byShard {
		result := s.db.DB.WithContext(ctx).
			Table(table).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "event_id"}},
				DoNothing: true,
			}).
			CreateInBatches(rows, 500)

		if result.Error != nil {
			return inserted, conflicted, fmt.Errorf("eventstore: bulk insert into %s: %w", table, result.Error)
		}

		affected := int(result.RowsAffected)
		inserted += affected
		conflicted += len(rows) - affected
	}

	return inserted, conflicted, nil
}

// EnsureShardTables creates the events_<n> shard tables and their indexes if
// absent. Called once at startup, not on the ingest/worker hot path.
func (s *EventStore) EnsureShardTables(ctx context.Context) error {
	for i := 0; i < s.shards; i++ {
		if err := createShardTable(ctx, s.db.DB, shardName(i)); err != nil {
			return err
		}
	}
	return nil
}

func createShardTable(ctx context.Context, db *gorm.DB, table string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			event_id varchar(255) PRIMARY KEY,
			user_id varchar(255) NOT NULL,
			session_id varchar(255) NOT NULL,
			event_type varchar(100) NOT NULL,
			"timestamp" timestamptz NOT NULL,
			priority integer NOT NULL DEFAULT 1,
			metadata jsonb,
			payload jsonb,
			ingested_at timestamptz NOT NULL,
			source_user_id varchar(255) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_timestamp_idx ON %s ("timestamp")`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_event_type_idx ON %s (event_type)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_ts_idx ON %s (user_id, "timestamp")`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ts_type_idx ON %s ("timestamp", event_type)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_created_type_idx ON %s (created_at, event_type)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_type_ts_idx ON %s (user_id, event_type, "timestamp")`, table, table),
	}

	for _, stmt := range stmts {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("eventstore: ensure shard table %s: %w", table, err)
		}
	}
	return nil
}

func toEventRow(e event.Event) (eventRow, error) {
	return eventRow{
		EventID:      e.EventID,
		UserID:       e.UserID,
		SessionID:    e.SessionID,
		EventType:    e.EventType,
		Timestamp:    e.Timestamp,
		Priority:     e.Priority,
		Metadata:     datatypes.JSONMap(e.Metadata),
		Payload:      datatypes.JSONMap(e.Payload),
		IngestedAt:   e.IngestedAt,
		SourceUserID: e.SourceUserID,
	}, nil
}
