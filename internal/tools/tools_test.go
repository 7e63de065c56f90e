package tools

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundDownToStep(t *testing.T) {
	testCases := []struct {
		desc     string
		value    string
		step     string
		expected string
	}{
		{"already aligned", "50.00", "0.01", "50"},
		{"cents truncated", "47.509", "0.01", "47.5"},
		{"never rounds up", "0.0199999", "0.01", "0.01"},
		{"coarse step", "12.9", "5", "10"},
		{"below one step", "0.004", "0.01", "0"},
		{"odd step", "1.00", "0.3", "0.9"},
		{"zero step passthrough", "3.14159", "0", "3.14159"},
		{"negative floors", "-0.015", "0.01", "-0.02"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			v := decimal.RequireFromString(tc.value)
			s := decimal.RequireFromString(tc.step)
			got := RoundDownToStep(v, s)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.expected)), "got %s", got)
			if s.IsPositive() {
				assert.True(t, got.LessThanOrEqual(v))
				assert.True(t, IsMultipleOf(got, s))
			}
		})
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestJitterBounds(t *testing.T) {
	for range 100 {
		d := Jitter(time.Second, 0.2)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
	assert.Equal(t, time.Second, Jitter(time.Second, 0))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 1, 999, time.FixedZone("x", 3600))
	assert.Equal(t, "2024-03-09T06:05:01Z", FormatTimestamp(ts))
}
