package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Only the commands behind Append/EnsureGroup/ReadGroup/Acknowledge/Info
// (XADD, XGROUP, XREADGROUP, XACK, XLEN, XPENDING, XINFO GROUPS) are covered
// here. XAUTOCLAIM (ClaimIdle) is left untested against the in-memory server
// used by these tests.

func TestStream_Append_ReturnsEntryID(t *testing.T) {
	s := NewStream(newTestRedisDB(t), "events:test", 1000)
	ctx := context.Background()

	id, err := s.Append(ctx, map[string]string{"event_id": "evt-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestStream_EnsureGroup_IsIdempotent(t *testing.T) {
	s := NewStream(newTestRedisDB(t), "events:test", 1000)
	ctx := context.Background()

	require.NoError(t, s.EnsureGroup(ctx, "workers"))
	require.NoError(t, s.EnsureGroup(ctx, "workers"))
}

func TestStream_ReadGroup_DeliversAppendedEntry(t *testing.T) {
	s := NewStream(newTestRedisDB(t), "events:test", 1000)
	ctx := context.Background()

	require.NoError(t, s.EnsureGroup(ctx, "workers"))
	_, err := s.Append(ctx, map[string]string{"event_id": "evt-1"})
	require.NoError(t, err)

	entries, err := s.ReadGroup(ctx, "workers", "consumer-a", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "evt-1", entries[0].Fields["event_id"])
	assert.Equal(t, "consumer-a", entries[0].OwnerConsumer)
}

func TestStream_ReadGroup_BlocksAndReturnsEmptyWhenNothingPending(t *testing.T) {
	s := NewStream(newTestRedisDB(t), "events:test", 1000)
	ctx := context.Background()
	require.NoError(t, s.EnsureGroup(ctx, "workers"))

	entries, err := s.ReadGroup(ctx, "workers", "consumer-a", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStream_Acknowledge_RemovesFromPending(t *testing.T) {
	s := NewStream(newTestRedisDB(t), "events:test", 1000)
	ctx := context.Background()
	require.NoError(t, s.EnsureGroup(ctx, "workers"))
	_, err := s.Append(ctx, map[string]string{"event_id": "evt-1"})
	require.NoError(t, err)

	entries, err := s.ReadGroup(ctx, "workers", "consumer-a", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	n, err := s.Acknowledge(ctx, "workers", []string{entries[0].EntryID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStream_Acknowledge_EmptyIsNoOp(t *testing.T) {
	s := NewStream(newTestRedisDB(t), "events:test", 1000)
	n, err := s.Acknowledge(context.Background(), "workers", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestStream_Info_ReportsLength(t *testing.T) {
	s := NewStream(newTestRedisDB(t), "events:test", 1000)
	ctx := context.Background()
	require.NoError(t, s.EnsureGroup(ctx, "workers"))
	_, err := s.Append(ctx, map[string]string{"event_id": "evt-1"})
	require.NoError(t, err)

	info, err := s.Info(ctx, "workers")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Length)
}
