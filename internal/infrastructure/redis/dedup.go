// Package redis adapts the shared Redis connection into the three
// backend-specific primitives the ingestion pipeline needs: the dedup
// index (C1), the event stream (C2), and the rolling metrics counters (C3).
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"eventpipe/internal/core/domain/event"
	"eventpipe/internal/infrastructure/database"
)

const dedupKeyPrefix = "dedup:event:"

// DedupIndex is the Redis-backed set-if-absent fingerprint store (C1).
type DedupIndex struct {
	redis   *database.RedisDB
	baseTTL time.Duration
}

// NewDedupIndex constructs a DedupIndex with the given default TTL.
func NewDedupIndex(redisDB *database.RedisDB, baseTTL time.Duration) *DedupIndex {
	return &DedupIndex{redis: redisDB, baseTTL: baseTTL}
}

var _ event.DedupIndex = (*DedupIndex)(nil)

// TryClaim atomically sets event_id if absent with a TTL, the unit of
// idempotency: only the first caller inside the TTL window observes New.
func (d *DedupIndex) TryClaim(ctx context.Context, eventID string) (event.ClaimResult, error) {
	claimed, err := d.redis.Client.SetNX(ctx, d.key(eventID), 1, d.baseTTL).Result()
	if err != nil {
		return event.Duplicate, fmt.Errorf("dedup: claim %s: %w", eventID, err)
	}
	if claimed {
		return event.New, nil
	}
	return event.Duplicate, nil
}

// BatchTryClaim claims a batch of event ids in a single pipelined round-trip.
// Every claimed key is set with its TTL as part of the same SETNX so no
// intermediate state (claimed-but-not-expiring) is observable.
func (d *DedupIndex) BatchTryClaim(ctx context.Context, eventIDs []string) (map[string]struct{}, int, error) {
	if len(eventIDs) == 0 {
		return map[string]struct{}{}, 0, nil
	}

	pipe := d.redis.Client.Pipeline()
	cmds := make([]*goredis.BoolCmd, len(eventIDs))
	for i, id := range eventIDs {
		cmds[i] = pipe.SetNX(ctx, d.key(id), 1, d.baseTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, 0, fmt.Errorf("dedup: batch claim: %w", err)
	}

	newIDs := make(map[string]struct{}, len(eventIDs))
	duplicateCount := 0
	for i, cmd := range cmds {
		claimed, err := cmd.Result()
		if err != nil {
			// Treat an individual command error conservatively as a duplicate
			// so the caller never double-admits an event it is unsure about.
			duplicateCount++
			continue
		}
		if claimed {
			newIDs[eventIDs[i]] = struct{}{}
		} else {
			duplicateCount++
		}
	}

	return newIDs, duplicateCount, nil
}

// Clear removes a dedup record, rolling back a claim whose stream append
// failed so a client retry is not permanently treated as a duplicate.
func (d *DedupIndex) Clear(ctx context.Context, eventID string) error {
	return d.redis.Delete(ctx, d.key(eventID))
}

func (d *DedupIndex) key(eventID string) string {
	return dedupKeyPrefix + eventID
}
