// Package postgres implements the EventStore, DLQ, and CredentialStore
// collaborators against a sharded Postgres schema.
package postgres

import (
	"hash/fnv"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// eventRow is the GORM model backing each events_<n> shard table.
type eventRow struct {
	EventID      string            `gorm:"column:event_id;primaryKey"`
	UserID       string            `gorm:"column:user_id;not null;index"`
	SessionID    string            `gorm:"column:session_id;not null"`
	EventType    string            `gorm:"column:event_type;not null;index"`
	Timestamp    time.Time         `gorm:"column:timestamp;not null;index"`
	Priority     int               `gorm:"column:priority;not null;default:1"`
	Metadata     datatypes.JSONMap `gorm:"column:metadata"`
	Payload      datatypes.JSONMap `gorm:"column:payload"`
	IngestedAt   time.Time         `gorm:"column:ingested_at;not null"`
	SourceUserID string            `gorm:"column:source_user_id;not null"`
	CreatedAt    time.Time         `gorm:"column:created_at;not null;autoCreateTime"`
}

// dlqRow is the GORM model backing the unsharded events_dlq table.
type dlqRow struct {
	ID                  uint           `gorm:"column:id;primaryKey;autoIncrement"`
	OriginalEventID     string         `gorm:"column:original_event_id;uniqueIndex;not null"`
	UserID              string         `gorm:"column:user_id;not null"`
	OriginalEventPayload datatypes.JSON `gorm:"column:original_event_payload"`
	ErrorMessage        string         `gorm:"column:error_message;not null"`
	FailedAt            time.Time      `gorm:"column:failed_at;not null"`
	RetryCount          int            `gorm:"column:retry_count;not null"`
	StreamEntryID        string         `gorm:"column:stream_entry_id;not null"`
	CreatedAt            time.Time      `gorm:"column:created_at;not null;autoCreateTime"`
}

// credentialRow is the GORM model backing the credentials table, a local
// cache of the external CredentialStore master data keyed by API-key hash.
type credentialRow struct {
	APIKeyHash string     `gorm:"column:api_key_hash;primaryKey"`
	UserID     string     `gorm:"column:user_id;not null"`
	Role       string     `gorm:"column:role;not null"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
	ExpiresAt  *time.Time `gorm:"column:expires_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null;autoCreateTime"`
}

func (eventRow) TableName() string      { return "events" }
func (dlqRow) TableName() string        { return "events_dlq" }
func (credentialRow) TableName() string { return "credentials" }

// shardTable returns the physical table name for a given user_id under an
// N-way logical shard scheme, hashed with FNV-32a for an even distribution.
func shardTable(userID string, shards int) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	idx := h.Sum32() % uint32(shards)
	return shardName(int(idx))
}

func shardName(idx int) string {
	return "events_" + strconv.Itoa(idx)
}
