package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"eventpipe/internal/core/domain/event"
	"eventpipe/internal/infrastructure/database"
)

const (
	perSecondTTL   = 120 * time.Second
	rollingWindow  = 60
	keyIngestedPS  = "ingested:"
	keyIngestedAll = "ingested:total"
	keyDupAll      = "duplicates:total"
	keyProcessed   = "processed:total"
	keyProcessedTy = "processed:by_type"
	keyFailedAll   = "failed:total"
	keyDLQAll      = "dlq:total"
	keyLastBatch   = "processed:last_batch_size"
	keyLastAt      = "processed:last_at"
)

// Counters is the Redis-backed rolling/cumulative metrics store (C3). Every
// operation is logged-and-swallowed on failure: a metrics outage must never
// fail an ingest or a processed batch.
type Counters struct {
	redis  *database.RedisDB
	logger *logrus.Logger
}

func NewCounters(redisDB *database.RedisDB, logger *logrus.Logger) *Counters {
	return &Counters{redis: redisDB, logger: logger}
}

var _ event.Metrics = (*Counters)(nil)

// IncIngested increments the current per-second bucket and the cumulative totals.
func (c *Counters) IncIngested(accepted, duplicates int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if accepted > 0 {
		bucket := keyIngestedPS + strconv.FormatInt(time.Now().Unix(), 10)
		if _, err := c.redis.IncrementBy(ctx, bucket, int64(accepted)); err != nil {
			c.warn("inc per-second ingested", err)
		} else if err := c.redis.Expire(ctx, bucket, perSecondTTL); err != nil {
			c.warn("expire per-second ingested", err)
		}
		if _, err := c.redis.IncrementBy(ctx, keyIngestedAll, int64(accepted)); err != nil {
			c.warn("inc ingested total", err)
		}
	}
	if duplicates > 0 {
		if _, err := c.redis.IncrementBy(ctx, keyDupAll, int64(duplicates)); err != nil {
			c.warn("inc duplicates total", err)
		}
	}
}

// IncProcessed increments the processed total, per-event-type subcounters,
// and records last-batch bookkeeping.
func (c *Counters) IncProcessed(batchSize int, eventTypes []string, processingTime time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.redis.IncrementBy(ctx, keyProcessed, int64(batchSize)); err != nil {
		c.warn("inc processed total", err)
	}

	counts := make(map[string]int64, len(eventTypes))
	for _, t := range eventTypes {
		counts[t]++
	}
	for t, n := range counts {
		if _, err := c.redis.HIncrBy(ctx, keyProcessedTy, t, n); err != nil {
			c.warn("inc processed by type", err)
		}
	}

	if err := c.redis.Set(ctx, keyLastBatch, batchSize, 24*time.Hour); err != nil {
		c.warn("set last batch size", err)
	}
	if err := c.redis.Set(ctx, keyLastAt, time.Now().UTC().Format(time.RFC3339), 24*time.Hour); err != nil {
		c.warn("set last processed at", err)
	}
}

// IncFailed increments the cumulative failed-event counter by count.
func (c *Counters) IncFailed(count int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.redis.IncrementBy(ctx, keyFailedAll, int64(count)); err != nil {
		c.warn("inc failed total", err)
	}
}

// IncDLQ increments the cumulative dead-lettered event counter.
func (c *Counters) IncDLQ(count int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.redis.IncrementBy(ctx, keyDLQAll, int64(count)); err != nil {
		c.warn("inc dlq total", err)
	}
}

// RateIngest returns the sum of per-second counters over the last 60s divided by 60.
func (c *Counters) RateIngest() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().Unix()
	keys := make([]string, 0, rollingWindow)
	for i := int64(0); i < rollingWindow; i++ {
		keys = append(keys, keyIngestedPS+strconv.FormatInt(now-i, 10))
	}

	var sum int64
	for _, k := range keys {
		v, err := c.redis.Get(ctx, k)
		if err != nil {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		sum += n
	}

	return float64(sum) / float64(rollingWindow)
}

// Totals returns the cumulative counters for diagnostics and stats endpoints.
func (c *Counters) Totals() (ingestedTotal, duplicatesTotal, processedTotal, failedTotal, dlqTotal int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ingestedTotal = c.getInt(ctx, keyIngestedAll)
	duplicatesTotal = c.getInt(ctx, keyDupAll)
	processedTotal = c.getInt(ctx, keyProcessed)
	failedTotal = c.getInt(ctx, keyFailedAll)
	dlqTotal = c.getInt(ctx, keyDLQAll)
	return
}

func (c *Counters) getInt(ctx context.Context, key string) int64 {
	v, err := c.redis.Get(ctx, key)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (c *Counters) warn(op string, err error) {
	c.logger.WithError(err).WithField("op", op).Warn(fmt.Sprintf("metrics: %s failed, continuing", op))
}
