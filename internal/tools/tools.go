package tools

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

const TimestampLayout = "2006-01-02T15:04:05Z"

// RoundDownToStep floors value to a whole multiple of step. A non-positive step leaves value as is.
func RoundDownToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	// делим нацело, остаток отбрасываем: округление только вниз
	q, r := value.QuoRem(step, 0)
	if value.IsNegative() && !r.IsZero() {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.Mul(step)
}

// IsMultipleOf reports whether value is an exact multiple of step.
func IsMultipleOf(value, step decimal.Decimal) bool {
	if !step.IsPositive() {
		return true
	}
	_, r := value.QuoRem(step, 0)
	return r.IsZero()
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Jitter spreads d uniformly over [d-d*ratio, d+d*ratio].
func Jitter(d time.Duration, ratio float64) time.Duration {
	if ratio <= 0 || d <= 0 {
		return d
	}
	if ratio > 1 {
		ratio = 1
	}
	delta := float64(d) * ratio
	return d - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
