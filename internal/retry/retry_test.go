package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/venue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPolicy(attempts int) (*Policy, *[]time.Duration) {
	waits := make([]time.Duration, 0)
	p := NewPolicy(config.RetryConfig{Attempts: attempts, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0}, logger.NewNop()).
		WithSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		})
	return p, &waits
}

func TestIsTransient(t *testing.T) {
	testCases := []struct {
		err      error
		expected bool
	}{
		{errors.New("429 Too Many Requests"), true},
		{errors.New("Rate limit exceeded"), true},
		{errors.New("context deadline exceeded (Client.Timeout exceeded while awaiting headers)"), true},
		{errors.New("venue temporarily unavailable"), true},
		{fmt.Errorf("%w: can't list fills", &venue.StatusError{Op: "list fills", Status: 503, Body: "upstream"}), true},
		{&venue.StatusError{Op: "accounts", Status: 429, Body: "slow down"}, true},
		{&venue.StatusError{Op: "market buy", Status: 400, Body: "quote size 1500.00 exceeds max 1000"}, false},
		{&venue.StatusError{Op: "market buy", Status: 400, Body: "request timeout window 5000ms"}, false},
		{&venue.StatusError{Op: "get product", Status: 404, Body: "not found"}, false},
		{errors.New("INVALID_PRODUCT_ID"), false},
		{errors.New("insufficient funds"), false},
		{errors.New("insufficient funds: 2500 needed"), false},
		{errors.New("order 4290 rejected"), false},
		{context.Canceled, false},
		{nil, false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, IsTransient(tc.err), "%v", tc.err)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	p, waits := newTestPolicy(4)

	calls := 0
	err := p.Do(context.Background(), "list fills", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *waits)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	p, waits := newTestPolicy(4)

	calls := 0
	permanent := errors.New("invalid quote size")
	err := p.Do(context.Background(), "market buy", func(context.Context) error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p, waits := newTestPolicy(3)

	calls := 0
	err := p.Do(context.Background(), "accounts", func(context.Context) error {
		calls++
		return errors.New("request timeout")
	})

	require.ErrorIs(t, err, ErrExhausted)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
	assert.Len(t, *waits, 2)
}

func TestBackoffIsCapped(t *testing.T) {
	p, _ := newTestPolicy(10)
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(8))
}

func TestCallReturnsValue(t *testing.T) {
	p, _ := newTestPolicy(2)

	calls := 0
	v, err := Call(context.Background(), p, "portfolios", func(context.Context) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("too many requests")
		}
		return []string{"default"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, v)
}

func TestOnceNeverRetries(t *testing.T) {
	p, waits := newTestPolicy(4)

	calls := 0
	err := p.Once().Do(context.Background(), "list fills", func(context.Context) error {
		calls++
		return errors.New("503 service unavailable")
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)

	permanent := errors.New("invalid order id")
	err = p.Once().Do(context.Background(), "list fills", func(context.Context) error { return permanent })
	assert.ErrorIs(t, err, permanent)
	assert.False(t, IsTransient(err))
}
