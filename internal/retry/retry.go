package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/tools"
	"github.com/STTM-NSU/crypto-buyer/internal/venue"
)

// transientMarkers are matched case-insensitively against the text of errors that carry
// no HTTP status. Bare status codes are left out: venue messages are full of numbers.
var transientMarkers = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"connection reset",
}

var ErrExhausted = errors.New("retry attempts exhausted")

// IsTransient reports whether err looks like venue-side congestion that a retry can clear.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrExhausted) {
		return true
	}

	var statusErr *venue.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= http.StatusInternalServerError
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

type Policy struct {
	cfg    config.RetryConfig
	logger logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewPolicy(cfg config.RetryConfig, logger logger.Logger) *Policy {
	cfg.Setup()
	return &Policy{
		cfg:    cfg,
		logger: logger,
		sleep:  tools.Sleep,
	}
}

// WithSleep swaps the wait function, tests use it to avoid real delays.
func (p *Policy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Policy {
	cp := *p
	cp.sleep = sleep
	return &cp
}

// Once keeps the error classification but never retries: a transient failure comes back
// wrapped in ErrExhausted. Polling loops use it, they have their own try budget.
func (p *Policy) Once() *Policy {
	cp := *p
	cp.cfg.Attempts = 1
	return &cp
}

// Backoff returns the wait before the given retry (1-based), before jitter.
func (p *Policy) Backoff(retry int) time.Duration {
	if retry <= 0 {
		retry = 1
	}
	wait := p.cfg.BaseDelay
	for i := 1; i < retry; i++ {
		wait *= 2
		if wait >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	return wait
}

// Do runs fn until it succeeds, fails with a non-transient error or runs out of attempts.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == p.cfg.Attempts {
			break
		}

		wait := tools.Jitter(p.Backoff(attempt), p.cfg.Jitter)
		p.logger.Warnf("%s: transient error on %s, attempt %d/%d, retry in %s", err, op, attempt, p.cfg.Attempts, wait)
		if sErr := p.sleep(ctx, wait); sErr != nil {
			return fmt.Errorf("%w: %s interrupted", sErr, op)
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, op, p.cfg.Attempts, err)
}

// Call is Do for functions returning a value.
func Call[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
