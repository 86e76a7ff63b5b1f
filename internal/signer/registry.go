package signer

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
)

// Fallback behaviors when every strategy fails.
const (
	FallbackFail     = "fail"
	FallbackContinue = "continue"
	FallbackLogOnly  = "log_only"
)

// ErrTimeout is carried in Result.Err when the overall signing deadline
// elapsed before any strategy produced a header.
var ErrTimeout = errors.New("signer: timeout")

// ErrAllStrategiesFailed is raised (under FallbackFail) or carried in
// Result.Err when no strategy could sign.
var ErrAllStrategiesFailed = errors.New("signer: all strategies failed")

// Config is the registry's cross-cutting policy.
type Config struct {
	Enabled          bool
	FallbackBehavior string // fail, continue, log_only
	MaxRetries       int
	Timeout          time.Duration
}

// DefaultConfig mirrors the documented auto-sign defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		FallbackBehavior: FallbackContinue,
		MaxRetries:       3,
		Timeout:          30 * time.Second,
	}
}

// Registry holds the ordered strategy set.
type Registry struct {
	cfg        Config
	strategies []Strategy
	metrics    *metrics.Metrics
}

// New builds a Registry from cfg and strategies; the slice is sorted once,
// descending by priority.
func New(cfg Config, strategies []Strategy, m *metrics.Metrics) *Registry {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FallbackBehavior == "" {
		cfg.FallbackBehavior = FallbackContinue
	}

	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	return &Registry{cfg: cfg, strategies: sorted, metrics: m}
}

// Enabled reports whether auto-sign is globally on.
func (r *Registry) Enabled() bool {
	return r.cfg.Enabled
}

// Sign walks the strategies in priority order under the registry deadline.
// Each eligible strategy gets up to MaxRetries attempts with linear backoff
// (attempt * 1s). The first success wins. When everything fails, the
// configured fallback decides whether the error is raised (FallbackFail) or
// swallowed into an unsuccessful Result.
func (r *Registry) Sign(ctx context.Context, sc SignContext) (Result, error) {
	if !r.cfg.Enabled || len(r.strategies) == 0 {
		return Result{OK: false}, nil
	}

	log := logger.FromContext(ctx)

	deadline, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var lastErr error
	for _, strategy := range r.strategies {
		if deadline.Err() != nil {
			return r.finish(ctx, Result{OK: false, Err: ErrTimeout})
		}
		if !strategy.CanSign(deadline, sc) {
			continue
		}

		result, err := r.attempt(deadline, strategy, sc)
		r.observe(strategy.Name(), result.OK)
		if result.OK {
			log.Debug().
				Str("strategy", strategy.Name()).
				Str("wallet", result.WalletAddress).
				Msg("auto-sign succeeded")
			return result, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return r.finish(ctx, Result{OK: false, Err: ErrTimeout})
		}
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Str("strategy", strategy.Name()).Msg("auto-sign strategy failed")
		}
	}

	if lastErr == nil {
		lastErr = ErrAllStrategiesFailed
	}
	return r.finish(ctx, Result{OK: false, Err: lastErr})
}

// attempt runs one strategy with the per-strategy retry budget.
func (r *Registry) attempt(ctx context.Context, strategy Strategy, sc SignContext) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		result, err := strategy.SignPayment(ctx, sc)
		if err == nil && result.OK {
			return result, nil
		}
		if err == nil {
			err = result.Err
		}
		lastErr = err

		if attempt == r.cfg.MaxRetries {
			break
		}
		backoff := time.Duration(attempt) * time.Second
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Result{OK: false}, ctx.Err()
		}
	}
	return Result{OK: false, Err: lastErr}, lastErr
}

// finish applies the fallback behavior to an all-failed outcome.
func (r *Registry) finish(ctx context.Context, result Result) (Result, error) {
	switch r.cfg.FallbackBehavior {
	case FallbackFail:
		return result, result.Err
	case FallbackLogOnly:
		log := logger.FromContext(ctx)
		log.Warn().Err(result.Err).Msg("auto-sign failed; continuing unpaid")
		return result, nil
	default: // FallbackContinue
		return result, nil
	}
}

func (r *Registry) observe(strategy string, ok bool) {
	if r.metrics == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	r.metrics.ObserveSignerAttempt(strategy, outcome)
}
