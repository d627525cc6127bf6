package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"eventpipe/internal/core/domain/event"
	"eventpipe/internal/infrastructure/database"
)

// Stream is a Redis Streams-backed append-only log with consumer-group
// semantics (C2): durable append, PEL, claim-idle, block-on-empty read.
type Stream struct {
	redis     *database.RedisDB
	streamKey string
	maxLen    int64
}

// NewStream constructs a Stream bound to a single logical stream key.
func NewStream(redisDB *database.RedisDB, streamKey string, maxLen int64) *Stream {
	return &Stream{redis: redisDB, streamKey: streamKey, maxLen: maxLen}
}

var _ event.Stream = (*Stream)(nil)

// Append adds a record to the stream; entry_id is assigned monotonically by Redis.
func (s *Stream) Append(ctx context.Context, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	id, err := s.redis.Client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.streamKey,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("stream: append: %w", err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group if it does not already exist.
// "0" as the start id means no messages present before group creation are skipped.
func (s *Stream) EnsureGroup(ctx context.Context, group string) error {
	err := s.redis.Client.XGroupCreateMkStream(ctx, s.streamKey, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("stream: ensure group %s: %w", group, err)
	}
	return nil
}

// ReadGroup fetches up to maxCount never-yet-delivered entries for consumerID,
// blocking up to blockFor when the stream is empty.
func (s *Stream) ReadGroup(ctx context.Context, group, consumerID string, maxCount int64, blockFor time.Duration) ([]event.StreamEntry, error) {
	res, err := s.redis.Client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumerID,
		Streams:  []string{s.streamKey, ">"},
		Count:    maxCount,
		Block:    blockFor,
	}).Result()

	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("stream: read group: %w", err)
	}

	now := time.Now().UTC()
	var entries []event.StreamEntry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			entries = append(entries, toStreamEntry(msg, consumerID, now))
		}
	}
	return entries, nil
}

// Acknowledge removes entries from the PEL; entries not present are silently ignored.
func (s *Stream) Acknowledge(ctx context.Context, group string, entryIDs []string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	n, err := s.redis.Client.XAck(ctx, s.streamKey, group, entryIDs...).Result()
	if err != nil {
		return 0, fmt.Errorf("stream: acknowledge: %w", err)
	}
	return n, nil
}

// ClaimIdle reassigns PEL entries idle at least minIdle to consumerID, incrementing delivery_count.
func (s *Stream) ClaimIdle(ctx context.Context, group, consumerID string, minIdle time.Duration, maxCount int64) ([]event.StreamEntry, error) {
	msgs, _, err := s.redis.Client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   s.streamKey,
		Group:    group,
		Consumer: consumerID,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    maxCount,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("stream: claim idle: %w", err)
	}

	now := time.Now().UTC()
	entries := make([]event.StreamEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, toStreamEntry(msg, consumerID, now))
	}
	return entries, nil
}

// Info reports the stream's length, pending count, and consumer count for a group.
func (s *Stream) Info(ctx context.Context, group string) (event.StreamInfo, error) {
	length, err := s.redis.Client.XLen(ctx, s.streamKey).Result()
	if err != nil {
		return event.StreamInfo{}, fmt.Errorf("stream: xlen: %w", err)
	}

	pending, err := s.redis.Client.XPending(ctx, s.streamKey, group).Result()
	if err != nil {
		if err == goredis.Nil {
			return event.StreamInfo{Length: length}, nil
		}
		return event.StreamInfo{}, fmt.Errorf("stream: xpending: %w", err)
	}

	groups, err := s.redis.Client.XInfoGroups(ctx, s.streamKey).Result()
	var consumerCount int64
	if err == nil {
		for _, g := range groups {
			if g.Name == group {
				consumerCount = g.Consumers
				break
			}
		}
	}

	return event.StreamInfo{
		Length:        length,
		PendingCount:  pending.Count,
		ConsumerCount: consumerCount,
	}, nil
}

func toStreamEntry(msg goredis.XMessage, owner string, deliveredAt time.Time) event.StreamEntry {
	fields := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return event.StreamEntry{
		EntryID:          msg.ID,
		Fields:           fields,
		DeliveryCount:    1,
		FirstDeliveredAt: deliveredAt,
		LastDeliveredAt:  deliveredAt,
		OwnerConsumer:    owner,
	}
}
