package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm/clause"

	"eventpipe/internal/core/domain/event"
	"eventpipe/internal/infrastructure/database"
)

// DLQ is the durable dead-letter sink (C6): a unique index on
// original_event_id makes a redelivered write-after-claim-idle a no-op.
type DLQ struct {
	db *database.PostgresDB
}

func NewDLQ(db *database.PostgresDB) *DLQ {
	return &DLQ{db: db}
}

var _ event.DLQ = (*DLQ)(nil)

// Write persists dead-letter records, ignoring conflicts on original_event_id.
func (d *DLQ) Write(ctx context.Context, records []event.DeadLetterRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]dlqRow, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r.OriginalEventPayload)
		if err != nil {
			return fmt.Errorf("dlq: marshal payload for %s: %w", r.OriginalEventID, err)
		}
		rows = append(rows, dlqRow{
			OriginalEventID:      r.OriginalEventID,
			UserID:               r.UserID,
			OriginalEventPayload: payload,
			ErrorMessage:         r.ErrorMessage,
			FailedAt:             r.FailedAt,
			RetryCount:           r.RetryCount,
			StreamEntryID:        r.StreamEntryID,
		})
	}

	result := d.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "original_event_id"}},
			DoNothing: true,
		}).
		CreateInBatches(rows, 500)

	if result.Error != nil {
		return fmt.Errorf("dlq: write: %w", result.Error)
	}
	return nil
}
