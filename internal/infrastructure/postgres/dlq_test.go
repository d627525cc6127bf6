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

func setupDLQDB(t *testing.T) *database.PostgresDB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&dlqRow{}))
	return &database.PostgresDB{DB: db}
}

func TestDLQ_Write_PersistsRecords(t *testing.T) {
	pg := setupDLQDB(t)
	dlq := NewDLQ(pg)

	records := []event.DeadLetterRecord{{
		OriginalEventID:      "evt-1",
		UserID:               "user-a",
		OriginalEventPayload: sampleEvent("evt-1", "user-a"),
		ErrorMessage:         "bulk insert exhausted retries",
		FailedAt:             time.Now().UTC(),
		RetryCount:           3,
		StreamEntryID:        "1700000000000-0",
	}}

	require.NoError(t, dlq.Write(context.Background(), records))

	var count int64
	require.NoError(t, pg.DB.Model(&dlqRow{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestDLQ_Write_DuplicateIsIgnored(t *testing.T) {
	pg := setupDLQDB(t)
	dlq := NewDLQ(pg)

	records := []event.DeadLetterRecord{{
		OriginalEventID: "evt-dup",
		UserID:          "user-a",
		ErrorMessage:    "first failure",
		FailedAt:        time.Now().UTC(),
		RetryCount:      1,
		StreamEntryID:   "1-0",
	}}

	require.NoError(t, dlq.Write(context.Background(), records))
	require.NoError(t, dlq.Write(context.Background(), records))

	var count int64
	require.NoError(t, pg.DB.Model(&dlqRow{}).Where("original_event_id = ?", "evt-dup").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestDLQ_Write_Empty(t *testing.T) {
	pg := setupDLQDB(t)
	dlq := NewDLQ(pg)
	require.NoError(t, dlq.Write(context.Background(), nil))
}
