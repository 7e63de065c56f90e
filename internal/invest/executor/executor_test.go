package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/invest/instrument"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/retry"
	"github.com/STTM-NSU/crypto-buyer/internal/tools"
	"github.com/STTM-NSU/crypto-buyer/internal/venue/paper"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	exec  *Executor
	paper *paper.Venue
	polls int
}

func newFixture(t *testing.T, fillAfterPolls int, dryRun bool) *fixture {
	t.Helper()

	p := paper.New(config.PaperConfig{
		Portfolios: []config.PaperPortfolio{{ID: "p", Balances: []config.PaperBalance{{Currency: "USD", Amount: 1000}}}},
		Products: map[string]config.PaperProduct{
			"BTC-USD": {Price: 50000, BaseIncrement: 0.00000001, QuoteIncrement: 0.01, QuoteMinSize: 1},
		},
		FeeRate:        0.006,
		FillAfterPolls: fillAfterPolls,
	}, logger.NewNop())

	noSleep := func(context.Context, time.Duration) error { return nil }
	policy := retry.NewPolicy(config.RetryConfig{Attempts: 3}, logger.NewNop()).WithSleep(noSleep)
	rules, err := instrument.NewRulesService(p, policy, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(rules.Close)

	orders := config.OrdersConfig{PollMaxTries: 5}
	require.NoError(t, orders.Setup())

	f := &fixture{paper: p}
	f.exec = NewExecutor(p, rules, policy, orders, dryRun, logger.NewNop())
	f.exec.sleep = func(context.Context, time.Duration) error {
		f.polls++
		return nil
	}
	return f
}

func TestPlan(t *testing.T) {
	f := newFixture(t, 0, false)

	assert.True(t, f.exec.Plan(dec("1000")).Equal(dec("50")))
	assert.True(t, f.exec.Plan(dec("950")).Equal(dec("47.5")))
	assert.True(t, f.exec.Plan(dec("10")).Equal(dec("0.5")))
	assert.True(t, f.exec.Plan(dec("-3")).IsZero())
}

func TestExecuteConfirmed(t *testing.T) {
	f := newFixture(t, 0, false)

	ex := f.exec.Execute(context.Background(), model.OrderIntent{ProductID: "BTC-USD", PlannedNotional: dec("50.309")})
	require.NoError(t, ex.Err)
	assert.Equal(t, model.Confirmed, ex.Status)
	assert.Equal(t, model.Confirmed, ex.Order.Status)
	assert.True(t, ex.Order.QuoteSize.Equal(dec("50.3")))
	assert.NotEmpty(t, ex.Order.ClientOrderID)
	assert.NotEmpty(t, ex.Order.OrderID)

	assert.Equal(t, 1, ex.Fills.Count)
	assert.True(t, ex.Fills.Spent().Equal(dec("50.3")))
	assert.True(t, ex.Fills.Fees.IsPositive())
	assert.True(t, ex.Fills.BaseQty.IsPositive())
}

func TestExecuteSkipsBelowMinimum(t *testing.T) {
	f := newFixture(t, 0, false)

	ex := f.exec.Execute(context.Background(), model.OrderIntent{ProductID: "BTC-USD", PlannedNotional: dec("0.5")})
	assert.Equal(t, model.Skipped, ex.Status)
	assert.Equal(t, "notional $0.50 < $1.00", ex.Reason)
	assert.NoError(t, ex.Err)
	assert.Zero(t, f.paper.Calls(paper.OpMarketBuy))
}

func TestExecuteUnconfirmedAfterPolling(t *testing.T) {
	f := newFixture(t, 100, false)

	ex := f.exec.Execute(context.Background(), model.OrderIntent{ProductID: "BTC-USD", PlannedNotional: dec("20")})
	require.NoError(t, ex.Err)
	assert.Equal(t, model.Unconfirmed, ex.Status)
	assert.Equal(t, 5, f.paper.Calls(paper.OpListFills))
	assert.Equal(t, 4, f.polls)
	assert.Zero(t, ex.Fills.Count)
}

func TestConfirmTransientPollsUseTries(t *testing.T) {
	f := newFixture(t, 0, false)
	f.paper.Fail(paper.OpListFills, 2, errors.New("504 gateway timeout"))

	ex := f.exec.Execute(context.Background(), model.OrderIntent{ProductID: "BTC-USD", PlannedNotional: dec("20")})
	require.NoError(t, ex.Err)
	assert.Equal(t, model.Confirmed, ex.Status)
	assert.Equal(t, 3, f.paper.Calls(paper.OpListFills))
}

func TestExecuteKeepsPollingAfterCancel(t *testing.T) {
	f := newFixture(t, 1, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.exec.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		f.polls++
		return tools.Sleep(ctx, time.Millisecond)
	}

	ex := f.exec.Execute(ctx, model.OrderIntent{ProductID: "BTC-USD", PlannedNotional: dec("20")})
	require.NoError(t, ex.Err)
	assert.Equal(t, model.Confirmed, ex.Status)
	assert.Equal(t, 2, f.paper.Calls(paper.OpListFills))
	assert.Equal(t, 1, f.polls)
	assert.True(t, ex.Fills.BaseQty.IsPositive())
	assert.Error(t, ctx.Err())
}

func TestConfirmPermanentPollErrorIsTerminal(t *testing.T) {
	f := newFixture(t, 0, false)
	f.paper.Fail(paper.OpListFills, 1, errors.New("invalid order id"))

	ex := f.exec.Execute(context.Background(), model.OrderIntent{ProductID: "BTC-USD", PlannedNotional: dec("20")})
	assert.Equal(t, model.Failed, ex.Status)
	assert.Error(t, ex.Err)
	assert.NotEmpty(t, ex.Order.OrderID)
}

func TestSubmitRetriesWithFreshClientID(t *testing.T) {
	f := newFixture(t, 0, false)
	tick := time.Unix(1767225600, 0)
	f.exec.now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}
	f.paper.Fail(paper.OpMarketBuy, 1, errors.New("503 service unavailable"))

	o, err := f.exec.Submit(context.Background(), model.Order{ProductID: "BTC-USD", QuoteSize: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, 2, f.paper.Calls(paper.OpMarketBuy))
	assert.Equal(t, model.Submitted, o.Status)

	first := uuidFor(f, "BTC-USD", time.Unix(1767225600, 0).Add(time.Millisecond))
	assert.NotEqual(t, first, o.ClientOrderID)
}

func uuidFor(f *fixture, productID string, at time.Time) string {
	now := f.exec.now
	defer func() { f.exec.now = now }()
	f.exec.now = func() time.Time { return at }
	return f.exec.clientOrderID(productID)
}

func TestSubmitPermanentError(t *testing.T) {
	f := newFixture(t, 0, false)

	ex := f.exec.Execute(context.Background(), model.OrderIntent{ProductID: "BTC-USD", PlannedNotional: dec("5000")})
	assert.Equal(t, model.Failed, ex.Status)
	assert.Empty(t, ex.Order.OrderID)
	assert.Equal(t, 1, f.paper.Calls(paper.OpMarketBuy))
}

func TestExecuteDryRunNeverSubmits(t *testing.T) {
	f := newFixture(t, 0, true)

	ex := f.exec.Execute(context.Background(), model.OrderIntent{ProductID: "BTC-USD", PlannedNotional: dec("50")})
	assert.Equal(t, model.DryRun, ex.Status)
	assert.Equal(t, DryRunOrderID, ex.Order.OrderID)
	assert.Zero(t, f.paper.Calls(paper.OpMarketBuy))
	assert.Zero(t, f.paper.Calls(paper.OpListFills))
}

func TestClientOrderIDDependsOnProductAndTime(t *testing.T) {
	f := newFixture(t, 0, false)
	at := time.Unix(1767225600, 0)

	a := uuidFor(f, "BTC-USD", at)
	assert.Equal(t, a, uuidFor(f, "BTC-USD", at))
	assert.NotEqual(t, a, uuidFor(f, "ETH-USD", at))
	assert.NotEqual(t, a, uuidFor(f, "BTC-USD", at.Add(time.Nanosecond)))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]model.Fill{
		{BaseQty: dec("0.001"), QuoteValue: dec("50"), Fee: dec("0.3")},
		{BaseQty: dec("0.0005"), QuoteValue: dec("25"), Fee: dec("0.15")},
	})
	assert.Equal(t, 2, s.Count)
	assert.True(t, s.BaseQty.Equal(dec("0.0015")))
	assert.True(t, s.Spent().Equal(dec("75.45")))
	assert.True(t, s.IsConfirmed())

	assert.False(t, Summarize(nil).IsConfirmed())
}
