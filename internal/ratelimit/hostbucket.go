package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/mcpay/gateway/internal/metrics"
)

// TokenBucket is one upstream hostname's pacing state.
type TokenBucket struct {
	tokens         float64
	lastRefillMs   int64
	lastRequestMs  int64
}

// HostLimiterConfig configures the token bucket shared by every host.
type HostLimiterConfig struct {
	Capacity        float64
	RefillPerSecond float64
	MinDelayMs      int64
}

// DefaultHostLimiterConfig holds the stock pacing: 30-token buckets
// refilling at one token per two seconds, with a 1s floor between requests.
func DefaultHostLimiterConfig() HostLimiterConfig {
	return HostLimiterConfig{
		Capacity:        30,
		RefillPerSecond: 0.5,
		MinDelayMs:      1000,
	}
}

// HostLimiter paces outbound requests per upstream hostname with a token
// bucket plus a minimum inter-request delay. Buckets persist for the process
// lifetime and are created lazily on first use.
type HostLimiter struct {
	cfg     HostLimiterConfig
	metrics *metrics.Metrics

	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewHostLimiter builds a limiter from cfg.
func NewHostLimiter(cfg HostLimiterConfig, m *metrics.Metrics) *HostLimiter {
	return &HostLimiter{
		cfg:     cfg,
		metrics: m,
		buckets: make(map[string]*TokenBucket),
	}
}

// Wait blocks until host may proceed, honoring ctx cancellation. It refills
// the bucket, computes the wait implied by token scarcity and the minimum
// inter-request delay, consumes one token and stamps the time the request
// will proceed (now plus the wait), then sleeps for the larger of the two
// waits (cancellably).
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	waitFor := l.reserve(host)
	if waitFor <= 0 {
		return nil
	}

	if l.metrics != nil {
		l.metrics.ObserveRateLimitWait(host, waitFor)
	}

	timer := time.NewTimer(waitFor)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve performs the atomic refill+decide step under the limiter's lock
// (one mutex shared by all hosts) and returns how long the caller should
// sleep before proceeding.
func (l *HostLimiter) reserve(host string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UnixMilli()
	b, ok := l.buckets[host]
	if !ok {
		b = &TokenBucket{tokens: l.cfg.Capacity, lastRefillMs: now}
		l.buckets[host] = b
	}

	elapsedSeconds := float64(now-b.lastRefillMs) / 1000.0
	if elapsedSeconds > 0 {
		b.tokens = math.Min(l.cfg.Capacity, b.tokens+elapsedSeconds*l.cfg.RefillPerSecond)
		b.lastRefillMs = now
	}

	var waitForTokenMs float64
	if b.tokens < 1 {
		waitForTokenMs = math.Ceil((1 - b.tokens) / l.cfg.RefillPerSecond * 1000)
	}

	waitForMinDelayMs := float64(l.cfg.MinDelayMs - (now - b.lastRequestMs))
	if waitForMinDelayMs < 0 {
		waitForMinDelayMs = 0
	}

	wait := math.Max(waitForTokenMs, waitForMinDelayMs)

	b.tokens -= 1
	b.lastRequestMs = now + int64(wait)

	if wait <= 0 {
		return 0
	}
	return time.Duration(wait) * time.Millisecond
}
