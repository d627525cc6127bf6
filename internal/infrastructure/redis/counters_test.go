package redis

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounters(t *testing.T) *Counters {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewCounters(newTestRedisDB(t), logger)
}

func TestCounters_IncIngested_AccumulatesTotals(t *testing.T) {
	c := newTestCounters(t)

	c.IncIngested(3, 1)
	c.IncIngested(2, 0)

	ingested, duplicates, _, _, _ := c.Totals()
	assert.Equal(t, int64(5), ingested)
	assert.Equal(t, int64(1), duplicates)
}

func TestCounters_IncProcessed_UpdatesProcessedTotal(t *testing.T) {
	c := newTestCounters(t)

	c.IncProcessed(4, []string{"page.viewed", "page.viewed", "click"}, 10*time.Millisecond)

	_, _, processed, _, _ := c.Totals()
	assert.Equal(t, int64(4), processed)
}

func TestCounters_IncFailedAndIncDLQ_AccumulateIndependently(t *testing.T) {
	c := newTestCounters(t)

	c.IncFailed(2)
	c.IncFailed(1)
	c.IncDLQ(3)

	_, _, _, failed, dlq := c.Totals()
	assert.Equal(t, int64(3), failed)
	assert.Equal(t, int64(3), dlq)
}

func TestCounters_RateIngest_ReflectsRecentIngestedCount(t *testing.T) {
	c := newTestCounters(t)

	c.IncIngested(60, 0)

	rate := c.RateIngest()
	require.Greater(t, rate, 0.0)
	assert.InDelta(t, 1.0, rate, 0.001)
}

func TestCounters_Totals_ZeroWhenNothingRecorded(t *testing.T) {
	c := newTestCounters(t)

	ingested, duplicates, processed, failed, dlq := c.Totals()
	assert.Zero(t, ingested)
	assert.Zero(t, duplicates)
	assert.Zero(t, processed)
	assert.Zero(t, failed)
	assert.Zero(t, dlq)
}
