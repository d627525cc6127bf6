// Package worker implements the C5 consumer loop: it reads batches off the
// event stream's consumer group, bulk-inserts them into the event store with
// bounded retry, and dead-letters whatever the store refuses to accept.
package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"eventpipe/internal/core/domain/event"
	"eventpipe/pkg/retry"
)

const (
	readCount    = 50
	readBlockFor = 100 * time.Millisecond
)

// Config tunes the batching, reclaim, and retry behavior of a Worker.
// Zero-valued fields fall back to sane defaults via WithDefaults.
type Config struct {
	BatchSize     int
	BatchTimeout  time.Duration
	ClaimInterval time.Duration
	StaleAge      time.Duration
	StopTimeout   time.Duration
	Retry         retry.Config
}

// WithDefaults fills any zero-valued fields with the worker's baseline tuning.
func (c Config) WithDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 500 * time.Millisecond
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = 30 * time.Second
	}
	if c.StaleAge <= 0 {
		c.StaleAge = 60 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.Retry.MaxRetries <= 0 && c.Retry.BaseDelay <= 0 {
		c.Retry = retry.DefaultConfig()
	}
	return c
}

// Worker owns one consumer identity inside the shared consumer group.
type Worker struct {
	stream     event.Stream
	store      event.Store
	dlq        event.DLQ
	metrics    event.Metrics
	group      string
	consumerID string
	cfg        Config
	logger     *logrus.Logger

	mu         sync.Mutex
	buffer     []pending
	lastFlush  time.Time
	processing bool

	stopCh chan struct{}
	doneCh chan struct{}
}

type pending struct {
	entryID string
	event   event.Event
}

func New(stream event.Stream, store event.Store, dlq event.DLQ, metrics event.Metrics, group string, cfg Config, logger *logrus.Logger) *Worker {
	return &Worker{
		stream:     stream,
		store:      store,
		dlq:        dlq,
		metrics:    metrics,
		group:      group,
		consumerID: newConsumerID(),
		cfg:        cfg.WithDefaults(),
		logger:     logger,
		lastFlush:  time.Now(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

func newConsumerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	}
	return fmt.Sprintf("worker-%s-%d-%s", host, os.Getpid(), hex.EncodeToString(buf))
}

// Run blocks until the context is canceled or Stop is called. It is the
// worker's cooperative main loop: a batch read, an opportunistic flush check,
// and a periodic idle-claim sweep, all single-threaded against the buffer.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.doneCh)

	if err := w.stream.EnsureGroup(ctx, w.group); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	claimTicker := time.NewTicker(w.cfg.ClaimInterval)
	defer claimTicker.Stop()

	w.logger.WithField("consumer_id", w.consumerID).Info("worker started")

	for {
		select {
		case <-ctx.Done():
			w.drainOnStop(context.Background())
			return nil
		case <-w.stopCh:
			w.drainOnStop(context.Background())
			return nil
		case <-claimTicker.C:
			w.claimIdleEntries(ctx)
		default:
		}

		entries, err := w.stream.ReadGroup(ctx, w.group, w.consumerID, readCount, readBlockFor)
		if err != nil {
			if ctx.Err() != nil {
				w.drainOnStop(context.Background())
				return nil
			}
			w.logger.WithError(err).Warn("read group failed, backing off")
			time.Sleep(readBlockFor)
			continue
		}

		var invalidIDs []string
		w.mu.Lock()
		for _, entry := range entries {
			e, perr := deserializeEvent(entry.Fields)
			if perr != nil {
				w.logger.WithError(perr).WithField("entry_id", entry.EntryID).Warn("dropping unparseable stream entry")
				invalidIDs = append(invalidIDs, entry.EntryID)
				continue
			}
			w.buffer = append(w.buffer, pending{entryID: entry.EntryID, event: e})
		}
		shouldFlush := len(w.buffer) >= w.cfg.BatchSize || (len(w.buffer) > 0 && time.Since(w.lastFlush) >= w.cfg.BatchTimeout)
		w.mu.Unlock()

		if len(invalidIDs) > 0 {
			if _, err := w.stream.Acknowledge(ctx, w.group, invalidIDs); err != nil {
				w.logger.WithError(err).Error("acknowledge failed for unparseable entries")
			}
		}

		if shouldFlush {
			w.flush(ctx)
		}
	}
}

// Stop requests the loop to exit and flush its buffer, waiting up to
// stopTimeout for that to happen.
func (w *Worker) Stop() {
	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(w.cfg.StopTimeout):
		w.logger.Warn("worker stop timed out waiting for final flush")
	}
}

func (w *Worker) drainOnStop(ctx context.Context) {
	w.mu.Lock()
	empty := len(w.buffer) == 0
	w.mu.Unlock()
	if !empty {
		w.flush(ctx)
	}
}

// flush moves the buffer out from under the lock, bulk-inserts it with
// bounded retry, and acknowledges or dead-letters accordingly.
func (w *Worker) flush(ctx context.Context) {
	w.mu.Lock()
	if w.processing || len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	w.processing = true
	batch := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.processing = false
		w.lastFlush = time.Now()
		w.mu.Unlock()
	}()

	events := make([]event.Event, len(batch))
	entryIDs := make([]string, len(batch))
	for i, p := range batch {
		events[i] = p.event
		entryIDs[i] = p.entryID
	}

	start := time.Now()
	result := retry.Do(ctx, w.cfg.Retry, func(ctx context.Context, attempt int) (struct{}, error) {
		_, _, err := w.store.BulkInsert(ctx, events)
		return struct{}{}, err
	})

	if result.Err == nil {
		if _, err := w.stream.Acknowledge(ctx, w.group, entryIDs); err != nil {
			w.logger.WithError(err).Error("acknowledge failed after successful insert")
		}
		types := make([]string, len(events))
		for i, e := range events {
			types[i] = e.EventType
		}
		w.metrics.IncProcessed(len(events), types, time.Since(start))
		return
	}

	w.logger.WithError(result.Err).WithField("attempts", result.Attempts).WithField("batch_size", len(events)).
		Error("bulk insert exhausted retries, dead-lettering batch")

	records := make([]event.DeadLetterRecord, len(batch))
	for i, p := range batch {
		records[i] = event.DeadLetterRecord{
			OriginalEventID:      p.event.EventID,
			UserID:               p.event.UserID,
			OriginalEventPayload: p.event,
			ErrorMessage:         result.Err.Error(),
			FailedAt:             time.Now().UTC(),
			RetryCount:           result.Attempts,
			StreamEntryID:        p.entryID,
		}
	}

	dlqResult := retry.Do(ctx, w.cfg.Retry, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, w.dlq.Write(ctx, records)
	})
	if err := dlqResult.Err; err != nil {
		// The batch is neither acknowledged nor recorded; it will be
		// reclaimed by ClaimIdle and retried from scratch on the next pass.
		w.logger.WithError(err).Error("dlq write failed, leaving batch unacked for reclaim")
		return
	}

	if _, err := w.stream.Acknowledge(ctx, w.group, entryIDs); err != nil {
		w.logger.WithError(err).Error("acknowledge failed after dlq write")
	}
	w.metrics.IncFailed(len(events))
	w.metrics.IncDLQ(len(events))
}

// claimIdleEntries sweeps entries that have sat pending longer than staleAge,
// adopting them under this consumer so a crashed peer's work is not stuck.
func (w *Worker) claimIdleEntries(ctx context.Context) {
	entries, err := w.stream.ClaimIdle(ctx, w.group, w.consumerID, w.cfg.StaleAge, readCount)
	if err != nil {
		w.logger.WithError(err).Warn("claim idle entries failed")
		return
	}
	if len(entries) == 0 {
		return
	}

	var invalidIDs []string
	w.mu.Lock()
	for _, entry := range entries {
		e, perr := deserializeEvent(entry.Fields)
		if perr != nil {
			w.logger.WithError(perr).WithField("entry_id", entry.EntryID).Warn("dropping unparseable reclaimed entry")
			invalidIDs = append(invalidIDs, entry.EntryID)
			continue
		}
		w.buffer = append(w.buffer, pending{entryID: entry.EntryID, event: e})
	}
	w.mu.Unlock()

	if len(invalidIDs) > 0 {
		if _, err := w.stream.Acknowledge(ctx, w.group, invalidIDs); err != nil {
			w.logger.WithError(err).Error("acknowledge failed for unparseable reclaimed entries")
		}
	}

	w.logger.WithField("count", len(entries)).Info("reclaimed stale pending entries")
}

func deserializeEvent(fields map[string]string) (event.Event, error) {
	priority, err := strconv.Atoi(fields["priority"])
	if err != nil {
		return event.Event{}, fmt.Errorf("invalid priority field: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, fields["timestamp"])
	if err != nil {
		return event.Event{}, fmt.Errorf("invalid timestamp field: %w", err)
	}
	ingestedAt, err := time.Parse(time.RFC3339, fields["ingested_at"])
	if err != nil {
		return event.Event{}, fmt.Errorf("invalid ingested_at field: %w", err)
	}

	var metadata, payload map[string]interface{}
	if v := fields["metadata"]; v != "" {
		if err := json.Unmarshal([]byte(v), &metadata); err != nil {
			return event.Event{}, fmt.Errorf("invalid metadata field: %w", err)
		}
	}
	if v := fields["payload"]; v != "" {
		if err := json.Unmarshal([]byte(v), &payload); err != nil {
			return event.Event{}, fmt.Errorf("invalid payload field: %w", err)
		}
	}

	return event.Event{
		EventID:      fields["event_id"],
		UserID:       fields["user_id"],
		SessionID:    fields["session_id"],
		EventType:    fields["event_type"],
		Timestamp:    ts,
		Priority:     priority,
		Metadata:     metadata,
		Payload:      payload,
		IngestedAt:   ingestedAt,
		SourceUserID: fields["source_user_id"],
	}, nil
}
