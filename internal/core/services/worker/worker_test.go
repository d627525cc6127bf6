package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"eventpipe/internal/core/domain/event"
	"eventpipe/pkg/retry"
)

// ============================================================================
// Mock collaborators
// ============================================================================

type MockStream struct {
	mock.Mock
}

func (m *MockStream) Append(ctx context.Context, fields map[string]string) (string, error) {
	args := m.Called(ctx, fields)
	return args.String(0), args.Error(1)
}

func (m *MockStream) EnsureGroup(ctx context.Context, group string) error {
	args := m.Called(ctx, group)
	return args.Error(0)
}

func (m *MockStream) ReadGroup(ctx context.Context, group, consumerID string, maxCount int64, blockFor time.Duration) ([]event.StreamEntry, error) {
	args := m.Called(ctx, group, consumerID, maxCount, blockFor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]event.StreamEntry), args.Error(1)
}

func (m *MockStream) Acknowledge(ctx context.Context, group string, entryIDs []string) (int64, error) {
	args := m.Called(ctx, group, entryIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStream) ClaimIdle(ctx context.Context, group, consumerID string, minIdle time.Duration, maxCount int64) ([]event.StreamEntry, error) {
	args := m.Called(ctx, group, consumerID, minIdle, maxCount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]event.StreamEntry), args.Error(1)
}

func (m *MockStream) Info(ctx context.Context, group string) (event.StreamInfo, error) {
	args := m.Called(ctx, group)
	return args.Get(0).(event.StreamInfo), args.Error(1)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) BulkInsert(ctx context.Context, events []event.Event) (int, int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Int(1), args.Error(2)
}

type MockDLQ struct {
	mock.Mock
}

func (m *MockDLQ) Write(ctx context.Context, records []event.DeadLetterRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) IncIngested(accepted, duplicates int) { m.Called(accepted, duplicates) }
func (m *MockMetrics) IncProcessed(batchSize int, eventTypes []string, processingTime time.Duration) {
	m.Called(batchSize, eventTypes, processingTime)
}
func (m *MockMetrics) IncFailed(count int) { m.Called(count) }
func (m *MockMetrics) IncDLQ(count int)    { m.Called(count) }
func (m *MockMetrics) RateIngest() float64 {
	args := m.Called()
	return args.Get(0).(float64)
}
func (m *MockMetrics) Totals() (int64, int64, int64, int64, int64) {
	args := m.Called()
	return args.Get(0).(int64), args.Get(1).(int64), args.Get(2).(int64), args.Get(3).(int64), args.Get(4).(int64)
}

func newTestWorker(stream *MockStream, store *MockStore, dlq *MockDLQ, metrics *MockMetrics) *Worker {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := Config{Retry: retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, CapDelay: time.Millisecond}}
	return New(stream, store, dlq, metrics, "test-group", cfg, logger)
}

func bufferedEvent(id string) pending {
	now := time.Now().UTC()
	return pending{
		entryID: id + "-entry",
		event: event.Event{
			EventID:    id,
			UserID:     "user-a",
			EventType:  "page.viewed",
			Timestamp:  now,
			IngestedAt: now,
		},
	}
}

// ============================================================================
// flush
// ============================================================================

func TestFlush_AcknowledgesOnSuccessfulInsert(t *testing.T) {
	stream := new(MockStream)
	store := new(MockStore)
	dlq := new(MockDLQ)
	metrics := new(MockMetrics)

	w := newTestWorker(stream, store, dlq, metrics)
	w.buffer = []pending{bufferedEvent("evt-1"), bufferedEvent("evt-2")}

	store.On("BulkInsert", mock.Anything, mock.Anything).Return(2, 0, nil)
	stream.On("Acknowledge", mock.Anything, "test-group", mock.Anything).Return(int64(2), nil)
	metrics.On("IncProcessed", 2, mock.Anything, mock.Anything).Return()

	w.flush(context.Background())

	stream.AssertCalled(t, "Acknowledge", mock.Anything, "test-group", mock.Anything)
	dlq.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
	assert.Empty(t, w.buffer)
}

func TestFlush_DeadLettersAfterRetriesExhausted(t *testing.T) {
	stream := new(MockStream)
	store := new(MockStore)
	dlq := new(MockDLQ)
	metrics := new(MockMetrics)

	w := newTestWorker(stream, store, dlq, metrics)
	w.buffer = []pending{bufferedEvent("evt-1")}

	store.On("BulkInsert", mock.Anything, mock.Anything).Return(0, 0, errors.New("constraint violation"))
	dlq.On("Write", mock.Anything, mock.MatchedBy(func(records []event.DeadLetterRecord) bool {
		return len(records) == 1 && records[0].OriginalEventID == "evt-1"
	})).Return(nil)
	stream.On("Acknowledge", mock.Anything, "test-group", mock.Anything).Return(int64(1), nil)
	metrics.On("IncFailed", 1).Return()
	metrics.On("IncDLQ", 1).Return()

	w.flush(context.Background())

	dlq.AssertCalled(t, "Write", mock.Anything, mock.Anything)
	stream.AssertCalled(t, "Acknowledge", mock.Anything, "test-group", mock.Anything)
	metrics.AssertCalled(t, "IncDLQ", 1)
}

func TestFlush_LeavesBatchUnackedWhenDLQWriteFails(t *testing.T) {
	stream := new(MockStream)
	store := new(MockStore)
	dlq := new(MockDLQ)
	metrics := new(MockMetrics)

	w := newTestWorker(stream, store, dlq, metrics)
	w.buffer = []pending{bufferedEvent("evt-1")}

	store.On("BulkInsert", mock.Anything, mock.Anything).Return(0, 0, errors.New("constraint violation"))
	dlq.On("Write", mock.Anything, mock.Anything).Return(errors.New("postgres unreachable"))

	w.flush(context.Background())

	stream.AssertNotCalled(t, "Acknowledge", mock.Anything, mock.Anything, mock.Anything)
	metrics.AssertNotCalled(t, "IncDLQ", mock.Anything)
}

func TestFlush_NoOpOnEmptyBuffer(t *testing.T) {
	stream := new(MockStream)
	store := new(MockStore)
	dlq := new(MockDLQ)
	metrics := new(MockMetrics)

	w := newTestWorker(stream, store, dlq, metrics)
	w.flush(context.Background())

	store.AssertNotCalled(t, "BulkInsert", mock.Anything, mock.Anything)
}

// ============================================================================
// claimIdleEntries
// ============================================================================

func validFields(eventID string) map[string]string {
	now := time.Now().UTC().Format(time.RFC3339)
	return map[string]string{
		"event_id":       eventID,
		"user_id":        "user-a",
		"session_id":     "sess-1",
		"event_type":     "page.viewed",
		"timestamp":      now,
		"priority":       "1",
		"metadata":       "{}",
		"payload":        "{}",
		"ingested_at":    now,
		"source_user_id": "user-a",
	}
}

func TestClaimIdleEntries_ReclaimsStaleEntryIntoBuffer(t *testing.T) {
	stream := new(MockStream)
	store := new(MockStore)
	dlq := new(MockDLQ)
	metrics := new(MockMetrics)

	w := newTestWorker(stream, store, dlq, metrics)

	stream.On("ClaimIdle", mock.Anything, "test-group", w.consumerID, mock.Anything, mock.Anything).
		Return([]event.StreamEntry{
			{EntryID: "1-0", Fields: validFields("evt-stale")},
		}, nil)

	w.claimIdleEntries(context.Background())

	require.Len(t, w.buffer, 1)
	assert.Equal(t, "evt-stale", w.buffer[0].event.EventID)
	stream.AssertNotCalled(t, "Acknowledge", mock.Anything, mock.Anything, mock.Anything)
}

func TestClaimIdleEntries_AcksAndDropsUnparseableEntry(t *testing.T) {
	stream := new(MockStream)
	store := new(MockStore)
	dlq := new(MockDLQ)
	metrics := new(MockMetrics)

	w := newTestWorker(stream, store, dlq, metrics)

	badFields := validFields("evt-bad")
	badFields["priority"] = "not-a-number"

	stream.On("ClaimIdle", mock.Anything, "test-group", w.consumerID, mock.Anything, mock.Anything).
		Return([]event.StreamEntry{
			{EntryID: "2-0", Fields: badFields},
		}, nil)
	stream.On("Acknowledge", mock.Anything, "test-group", []string{"2-0"}).Return(int64(1), nil)

	w.claimIdleEntries(context.Background())

	assert.Empty(t, w.buffer)
	stream.AssertCalled(t, "Acknowledge", mock.Anything, "test-group", []string{"2-0"})
}

func TestClaimIdleEntries_NoOpWhenNothingToClaim(t *testing.T) {
	stream := new(MockStream)
	store := new(MockStore)
	dlq := new(MockDLQ)
	metrics := new(MockMetrics)

	w := newTestWorker(stream, store, dlq, metrics)

	stream.On("ClaimIdle", mock.Anything, "test-group", w.consumerID, mock.Anything, mock.Anything).
		Return(nil, nil)

	w.claimIdleEntries(context.Background())

	assert.Empty(t, w.buffer)
	store.AssertNotCalled(t, "BulkInsert", mock.Anything, mock.Anything)
}

// ============================================================================
// deserializeEvent
// ============================================================================

func TestDeserializeEvent_RoundTrips(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	fields := map[string]string{
		"event_id":       "evt-1",
		"user_id":        "user-a",
		"session_id":     "sess-1",
		"event_type":     "page.viewed",
		"timestamp":      now.Format(time.RFC3339),
		"priority":       "2",
		"metadata":       `{"k":"v"}`,
		"payload":        `{"p":1}`,
		"ingested_at":    now.Format(time.RFC3339),
		"source_user_id": "user-a",
	}

	e, err := deserializeEvent(fields)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", e.EventID)
	assert.Equal(t, 2, e.Priority)
	assert.Equal(t, "v", e.Metadata["k"])
	assert.True(t, e.Timestamp.Equal(now))
}

func TestDeserializeEvent_RejectsBadPriority(t *testing.T) {
	fields := map[string]string{"priority": "not-a-number"}
	_, err := deserializeEvent(fields)
	require.Error(t, err)
}

// ============================================================================
// Config
// ============================================================================

func TestConfig_WithDefaults_FillsZeroValues(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchTimeout)
	assert.Equal(t, 30*time.Second, cfg.ClaimInterval)
	assert.Equal(t, 60*time.Second, cfg.StaleAge)
	assert.Equal(t, 5*time.Second, cfg.StopTimeout)
	assert.Greater(t, cfg.Retry.MaxRetries, 0)
}

func TestConfig_WithDefaults_PreservesSetValues(t *testing.T) {
	cfg := Config{BatchSize: 7}.WithDefaults()
	assert.Equal(t, 7, cfg.BatchSize)
}
