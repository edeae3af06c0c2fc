package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RouteClass is one of the rate-limited route categories.
type RouteClass string

// Route classes; their request budgets are passed to NewRouteLimiter.
const (
	RouteUpload  RouteClass = "upload"
	RouteSearch  RouteClass = "search"
	RouteAuth    RouteClass = "auth"
	RouteExport  RouteClass = "export"
	RouteDefault RouteClass = "default"
)

// inProcessBucket is the local token bucket used when the distributed
// limiter is unavailable.
type inProcessBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func (b *inProcessBucket) allow(cost float64) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	if b.tokens >= cost {
		b.tokens -= cost
		return true, 0
	}
	shortage := cost - b.tokens
	var retryAfter time.Duration
	if b.refillRate > 0 {
		retryAfter = time.Duration(shortage / b.refillRate * float64(time.Second))
	}
	return false, retryAfter
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// RouteLimiter enforces the per-route-class token-bucket limits of the
// rate-limiting component: a distributed counter (Limiter) with an
// in-process fallback bucket used whenever the distributed backend errors
// or is absent.
type RouteLimiter struct {
	distributed Limiter
	fallbacks   sync.Map // key: "class:subject" -> *inProcessBucket
	limits      map[RouteClass]BucketConfig
}

// NewRouteLimiter builds a limiter with the spec's default per-route-class
// rates (requests/min, except export which is requests/hour).
func NewRouteLimiter(distributed Limiter, uploadPerMin, searchPerMin, authPerMin, exportPerHour, defaultPerMin int) *RouteLimiter {
	return &RouteLimiter{
		distributed: distributed,
		limits: map[RouteClass]BucketConfig{
			RouteUpload:  NewBucketConfigFromPerMinute(uploadPerMin),
			RouteSearch:  NewBucketConfigFromPerMinute(searchPerMin),
			RouteAuth:    NewBucketConfigFromPerMinute(authPerMin),
			RouteExport:  {Capacity: int64(exportPerHour), RefillRate: float64(exportPerHour) / 3600.0},
			RouteDefault: NewBucketConfigFromPerMinute(defaultPerMin),
		},
	}
}

// Allow checks whether a request for (routeClass, subject) — subject being
// a tenant ID or client IP — is within budget. Falls back to an in-process
// bucket when the distributed limiter errors or is unconfigured.
func (rl *RouteLimiter) Allow(ctx context.Context, class RouteClass, subject string) (bool, time.Duration, error) {
	cfg, ok := rl.limits[class]
	if !ok || cfg.Capacity <= 0 {
		cfg = rl.limits[RouteDefault]
	}
	key := fmt.Sprintf("%s:%s", class, subject)

	if rl.distributed != nil {
		allowed, retryAfter, err := rl.distributed.Allow(ctx, key, 1)
		if err == nil {
			return allowed, retryAfter, nil
		}
		slog.Warn("distributed rate limiter unavailable, falling back to in-process bucket",
			slog.String("key", key), slog.Any("error", err))
	}

	v, _ := rl.fallbacks.LoadOrStore(key, &inProcessBucket{
		tokens:     float64(cfg.Capacity),
		capacity:   float64(cfg.Capacity),
		refillRate: cfg.RefillRate,
		lastRefill: time.Now(),
	})
	allowed, retryAfter := v.(*inProcessBucket).allow(1)
	return allowed, retryAfter, nil
}
