package ingest

import (
	"bytes"
	"encoding/json"
	"time"

	appErrors "eventpipe/pkg/errors"

	"eventpipe/internal/core/domain/event"
)

// rawEvent is the wire shape accepted on the ingest path before it is
// normalized into an event.Event. Unknown top-level fields are rejected:
// UnmarshalJSON decodes with DisallowUnknownFields.
type rawEvent struct {
	EventID   string                 `json:"event_id"`
	UserID    string                 `json:"user_id" binding:"required"`
	SessionID string                 `json:"session_id" binding:"required"`
	EventType string                 `json:"event_type" binding:"required"`
	Timestamp string                 `json:"timestamp" binding:"required"`
	Priority  *int                   `json:"priority"`
	Metadata  map[string]interface{} `json:"metadata"`
	Payload   map[string]interface{} `json:"payload"`
}

// UnmarshalJSON decodes strictly, failing on any top-level field rawEvent
// does not declare.
func (r *rawEvent) UnmarshalJSON(data []byte) error {
	type plain rawEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode((*plain)(r))
}

// validate runs the pre-compiled declarative schema against a decoded
// payload. It is allocation-light on the success path: no reflection, a
// single precompiled regexp, and a fixed switch over the priority range.
func validate(raw rawEvent) (parsedTimestamp time.Time, priority int, err *appErrors.AppError) {
	if raw.UserID == "" {
		return time.Time{}, 0, appErrors.NewValidationError("user_id is required", "user_id")
	}
	if raw.SessionID == "" {
		return time.Time{}, 0, appErrors.NewValidationError("session_id is required", "session_id")
	}
	if raw.EventType == "" {
		return time.Time{}, 0, appErrors.NewValidationError("event_type is required", "event_type")
	}
	if len(raw.EventType) > 100 {
		return time.Time{}, 0, appErrors.NewValidationError("event_type must be 1-100 characters", "event_type")
	}
	if !event.EventTypePattern.MatchString(raw.EventType) {
		return time.Time{}, 0, appErrors.NewValidationError("event_type must match ^[A-Za-z][A-Za-z0-9_.\\-]*$", "event_type")
	}

	ts, parseErr := time.Parse(time.RFC3339, raw.Timestamp)
	if parseErr != nil {
		return time.Time{}, 0, appErrors.NewValidationError("timestamp must be a valid ISO-8601 instant", "timestamp")
	}

	priority = 1
	if raw.Priority != nil {
		priority = *raw.Priority
		if priority < 0 || priority > 3 {
			return time.Time{}, 0, appErrors.NewValidationError("priority must be 0-3", "priority")
		}
	}

	return ts, priority, nil
}
