// Package asynqadp provides a lightweight Redis-backed queue, the dev/test
// stand-in for the durable Redpanda backend. It is a reliable-queue over a
// Redis list plus a lease sorted set: BRPOPLPUSH-style handoff would work
// too, but tracking leases in their own keys lets Ack/Nack/Heartbeat mirror
// domain.Queue's visibility-timeout contract directly instead of only
// Kafka's offset-commit approximation of it.
package asynqadp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/resumecore/ingestion-core/internal/adapter/observability"
	"github.com/resumecore/ingestion-core/internal/domain"
)

const (
	keyQueue    = "ingestion:queue:jobs"
	keyDLQ      = "ingestion:queue:jobs:dlq"
	keyLeases   = "ingestion:queue:jobs:leases"    // HASH receipt -> lease json
	keyDeadline = "ingestion:queue:jobs:deadlines" // ZSET receipt -> deadline unix ms

	maxDeliveryCount = 5

	// receiveBlockTimeout bounds each BLPop attempt so Receive can observe
	// context cancellation promptly instead of blocking indefinitely.
	receiveBlockTimeout = 2 * time.Second
)

type lease struct {
	JobID               string `json:"job_id"`
	DeliveryCount       int    `json:"delivery_count"`
	VisibilityTimeoutMs int64  `json:"visibility_timeout_ms"`
	LastError           string `json:"last_error,omitempty"`
}

// Queue implements domain.Queue over a single Redis instance.
type Queue struct {
	redis *redis.Client
}

// New constructs a Queue from a redis:// connection URL.
func New(redisURL string) (*Queue, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("op=queue.new: redis url required")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.new: redis: %w", err)
	}
	return &Queue{redis: redis.NewClient(opt)}, nil
}

// NewWithClient wraps an already-configured client, used by tests against miniredis.
func NewWithClient(rdb *redis.Client) *Queue {
	return &Queue{redis: rdb}
}

// Enqueue pushes a job onto the tail of the work list.
func (q *Queue) Enqueue(ctx domain.Context, msg domain.JobMessage, visibilityTimeout time.Duration) error {
	if msg.JobID == "" {
		return fmt.Errorf("op=queue.enqueue: job id required")
	}
	l := lease{JobID: msg.JobID, DeliveryCount: 0, VisibilityTimeoutMs: visibilityTimeout.Milliseconds()}
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("op=queue.enqueue: marshal: %w", err)
	}
	if err := q.redis.RPush(ctx, keyQueue, b).Err(); err != nil {
		return fmt.Errorf("op=queue.enqueue: %w", err)
	}
	observability.EnqueueJob("process")
	return nil
}

// Receive blocks (in short polling bursts) until a job is available or ctx
// is cancelled. The returned receipt must be Ack'd or Nack'd by the caller;
// ReclaimExpired requeues anything left leased past its deadline, covering
// a worker crash between Receive and Ack/Nack.
func (q *Queue) Receive(ctx domain.Context) (domain.JobMessage, string, int, error) {
	for {
		select {
		case <-ctx.Done():
			return domain.JobMessage{}, "", 0, ctx.Err()
		default:
		}

		res, err := q.redis.BLPop(ctx, receiveBlockTimeout, keyQueue).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.JobMessage{}, "", 0, ctx.Err()
			}
			return domain.JobMessage{}, "", 0, fmt.Errorf("op=queue.receive: %w", err)
		}

		var l lease
		if err := json.Unmarshal([]byte(res[1]), &l); err != nil {
			// Poison message: drop it rather than block the whole queue on it.
			continue
		}
		l.DeliveryCount++

		receipt := uuid.NewString()
		deadline := time.Now().Add(time.Duration(l.VisibilityTimeoutMs) * time.Millisecond)
		b, err := json.Marshal(l)
		if err != nil {
			return domain.JobMessage{}, "", 0, fmt.Errorf("op=queue.receive: marshal lease: %w", err)
		}

		pipe := q.redis.TxPipeline()
		pipe.HSet(ctx, keyLeases, receipt, b)
		pipe.ZAdd(ctx, keyDeadline, redis.Z{Score: float64(deadline.UnixMilli()), Member: receipt})
		if _, err := pipe.Exec(ctx); err != nil {
			return domain.JobMessage{}, "", 0, fmt.Errorf("op=queue.receive: lease: %w", err)
		}

		return domain.JobMessage{JobID: l.JobID}, receipt, l.DeliveryCount, nil
	}
}

// Heartbeat extends a lease's visibility deadline, used by long-running
// pipeline stages to signal they are still making progress.
func (q *Queue) Heartbeat(ctx domain.Context, receipt string) error {
	raw, err := q.redis.HGet(ctx, keyLeases, receipt).Result()
	if err == redis.Nil {
		return fmt.Errorf("op=queue.heartbeat: unknown receipt %q", receipt)
	}
	if err != nil {
		return fmt.Errorf("op=queue.heartbeat: %w", err)
	}
	var l lease
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return fmt.Errorf("op=queue.heartbeat: unmarshal: %w", err)
	}
	deadline := time.Now().Add(time.Duration(l.VisibilityTimeoutMs) * time.Millisecond)
	if err := q.redis.ZAdd(ctx, keyDeadline, redis.Z{Score: float64(deadline.UnixMilli()), Member: receipt}).Err(); err != nil {
		return fmt.Errorf("op=queue.heartbeat: %w", err)
	}
	return nil
}

// Ack releases a lease without requeueing the job.
func (q *Queue) Ack(ctx domain.Context, receipt string) error {
	pipe := q.redis.TxPipeline()
	del := pipe.HDel(ctx, keyLeases, receipt)
	pipe.ZRem(ctx, keyDeadline, receipt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.ack: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("op=queue.ack: unknown receipt %q", receipt)
	}
	return nil
}

// Nack releases a lease and either requeues the job for another attempt or,
// once maxDeliveryCount is exceeded, routes it to the dead-letter list.
func (q *Queue) Nack(ctx domain.Context, receipt string, reason string) error {
	raw, err := q.redis.HGet(ctx, keyLeases, receipt).Result()
	if err == redis.Nil {
		return fmt.Errorf("op=queue.nack: unknown receipt %q", receipt)
	}
	if err != nil {
		return fmt.Errorf("op=queue.nack: %w", err)
	}
	var l lease
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return fmt.Errorf("op=queue.nack: unmarshal: %w", err)
	}
	l.LastError = reason
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("op=queue.nack: marshal: %w", err)
	}

	pipe := q.redis.TxPipeline()
	pipe.HDel(ctx, keyLeases, receipt)
	pipe.ZRem(ctx, keyDeadline, receipt)
	if l.DeliveryCount >= maxDeliveryCount {
		pipe.RPush(ctx, keyDLQ, b)
	} else {
		pipe.RPush(ctx, keyQueue, b)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.nack: %w", err)
	}
	return nil
}

// ReclaimExpired requeues leases whose visibility deadline elapsed without
// an Ack/Nack, the equivalent of a worker crashing mid-processing. It
// should be called periodically by a maintenance goroutine.
func (q *Queue) ReclaimExpired(ctx domain.Context) (int, error) {
	now := float64(time.Now().UnixMilli())
	expired, err := q.redis.ZRangeByScore(ctx, keyDeadline, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%.0f", now)}).Result()
	if err != nil {
		return 0, fmt.Errorf("op=queue.reclaim: %w", err)
	}

	reclaimed := 0
	for _, receipt := range expired {
		raw, err := q.redis.HGet(ctx, keyLeases, receipt).Result()
		if err != nil {
			continue
		}
		pipe := q.redis.TxPipeline()
		pipe.HDel(ctx, keyLeases, receipt)
		pipe.ZRem(ctx, keyDeadline, receipt)
		pipe.RPush(ctx, keyQueue, raw)
		if _, err := pipe.Exec(ctx); err == nil {
			reclaimed++
		}
	}
	return reclaimed, nil
}
