package buyer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/invest/executor"
	"github.com/STTM-NSU/crypto-buyer/internal/invest/funds"
	"github.com/STTM-NSU/crypto-buyer/internal/invest/portfolio"
	"github.com/STTM-NSU/crypto-buyer/internal/ledger"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/screener"
	"github.com/STTM-NSU/crypto-buyer/internal/tools"
)

type Summary struct {
	Target      string
	Products    int
	Confirmed   int
	Unconfirmed int
	DryRun      int
	Skipped     int
	Errors      int
	LogFailures int

	Sweep   funds.SweepResult
	Initial decimal.Decimal
	Spent   decimal.Decimal
	// Remaining is the budget left; it only ever goes down during a run.
	Remaining   decimal.Decimal
	Interrupted bool
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"products=%d confirmed=%d unconfirmed=%d dry-run=%d skipped=%d errors=%d initial=%s spent=%s remaining=%s",
		s.Products, s.Confirmed, s.Unconfirmed, s.DryRun, s.Skipped, s.Errors,
		s.Initial.StringFixed(2), s.Spent.StringFixed(2), s.Remaining.StringFixed(2),
	)
}

type Buyer struct {
	cfg config.BuyerConfig

	screener  screener.Source
	portfolio *portfolio.Service
	router    *funds.Router
	executor  *executor.Executor
	book      *ledger.CostBook
	journal   *ledger.Journal

	sleep func(ctx context.Context, d time.Duration) error

	logger logger.Logger
}

func New(
	cfg config.BuyerConfig,
	source screener.Source,
	portfolioService *portfolio.Service,
	router *funds.Router,
	exec *executor.Executor,
	book *ledger.CostBook,
	journal *ledger.Journal,
	logger logger.Logger) *Buyer {
	return &Buyer{
		cfg:       cfg,
		screener:  source,
		portfolio: portfolioService,
		router:    router,
		executor:  exec,
		book:      book,
		journal:   journal,
		sleep:     tools.Sleep,
		logger:    logger,
	}
}

// Run buys every screener product in order. Errors returned here happen before any
// order is placed; per-product failures only end up in the log and the summary.
func (b *Buyer) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	if err := b.journal.EnsureHeader(ctx); err != nil {
		return sum, fmt.Errorf("%w: can't prepare log tab", err)
	}
	if err := b.book.EnsureHeader(ctx); err != nil {
		return sum, fmt.Errorf("%w: can't prepare cost tab", err)
	}

	products, err := b.screener.Products(ctx)
	if err != nil {
		return sum, err
	}
	sum.Products = len(products)
	if len(products) == 0 {
		b.logger.Infof("no products in screener, nothing to do")
		return sum, nil
	}

	target, ok, err := b.portfolio.ResolveTarget(ctx)
	if err != nil {
		return sum, fmt.Errorf("%w: can't resolve target portfolio", err)
	}
	sum.Target = target.Name
	if !ok {
		sum.Target = "default"
	}

	if sum.Sweep, err = b.router.Sweep(ctx, target); err != nil {
		b.logger.Warnf("%s: sweep failed, going on with the target balance", err)
	}

	balances, err := b.portfolio.Balances(ctx, target.ID)
	if err != nil {
		return sum, fmt.Errorf("%w: can't read target balances", err)
	}
	b.portfolio.SuggestBetterFunded(ctx, target, balances)

	sum.Initial = b.portfolio.Spendable(balances)
	sum.Remaining = sum.Initial
	sum.Spent = decimal.Zero
	b.logger.Infof("buying %d products from portfolio %s, budget %s %s",
		len(products), sum.Target, sum.Initial.StringFixed(2), b.cfg.Funding.SettlementCurrency)

	for i, productID := range products {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}

		ex := b.buy(ctx, target, productID, &sum)
		b.record(ctx, ex, &sum)

		if i == len(products)-1 {
			break
		}
		wait := tools.Jitter(b.cfg.Orders.SleepBetweenOrders(), b.cfg.Orders.SleepJitter)
		if err := b.sleep(ctx, wait); err != nil {
			sum.Interrupted = true
			break
		}
	}

	if sum.Interrupted {
		b.logger.Warnf("run interrupted: %s", sum)
	} else {
		b.logger.Infof("run done: %s", sum)
	}
	return sum, nil
}

// buy re-derives the budget from a fresh balance read, tops the settlement balance up
// when short, then executes and books the order.
func (b *Buyer) buy(ctx context.Context, target model.Portfolio, productID string, sum *Summary) model.Execution {
	intent := model.OrderIntent{ProductID: productID}

	balances, err := b.portfolio.Balances(ctx, target.ID)
	if err != nil {
		return model.Execution{Intent: intent, Status: model.Failed, Err: err, Reason: err.Error()}
	}

	sum.Remaining = decimal.Min(sum.Remaining, b.portfolio.Spendable(balances))
	planned := b.executor.Plan(sum.Remaining)

	settlement := b.cfg.Funding.SettlementCurrency
	available := balances.Get(settlement)
	if planned.GreaterThan(available) && b.cfg.Funding.ConvertEnabled {
		res, err := b.router.Convert(ctx, target, planned.Sub(available))
		switch {
		case err != nil:
			b.logger.Warnf("%s: top-up for %s failed", err, productID)
		case res.Balances != nil:
			available = res.Balances.Get(settlement)
		}
	}
	if planned.GreaterThan(available) {
		b.logger.Infof("%s: planned %s capped to available %s", productID, planned.StringFixed(2), available.StringFixed(2))
		planned = available
	}

	intent.PlannedNotional = planned
	ex := b.executor.Execute(ctx, intent)

	spend := decimal.Zero
	switch ex.Status {
	case model.Confirmed:
		spend = ex.Fills.Spent()
		if _, err := b.book.Upsert(context.WithoutCancel(ctx), ex.Order.OrderID, productID, ex.Fills.BaseQty, spend); err != nil {
			b.logger.Errorf("%s: can't update cost basis of %s", err, productID)
			ex.Reason = "cost basis not updated: " + err.Error()
		}
	case model.Unconfirmed, model.DryRun:
		spend = ex.Order.QuoteSize
	case model.Failed:
		if ex.Order.OrderID != "" {
			spend = ex.Order.QuoteSize
		}
	}

	sum.Spent = sum.Spent.Add(spend)
	sum.Remaining = decimal.Max(decimal.Zero, sum.Remaining.Sub(spend))
	return ex
}

func (b *Buyer) record(ctx context.Context, ex model.Execution, sum *Summary) {
	entry := model.LogEntry{
		ProductID: ex.Intent.ProductID,
		Quote:     ex.Order.QuoteSize,
		BaseQty:   ex.Fills.BaseQty,
		OrderID:   ex.Order.OrderID,
		Status:    string(ex.Status),
		Note:      ex.Reason,
	}

	switch ex.Status {
	case model.Confirmed:
		sum.Confirmed++
		entry.Action = model.ActionBuy
	case model.Unconfirmed:
		sum.Unconfirmed++
		entry.Action = model.ActionBuy
	case model.DryRun:
		sum.DryRun++
		entry.Action = model.ActionBuy
	case model.Skipped:
		sum.Skipped++
		entry.Action = model.ActionSkip
		entry.Quote = ex.Intent.PlannedNotional
		b.logger.Infof("skip %s: %s", ex.Intent.ProductID, ex.Reason)
	default:
		sum.Errors++
		entry.Action = model.ActionError
		entry.Status = string(model.Failed)
		if errors.Is(ex.Err, context.Canceled) {
			entry.Note = "interrupted: " + entry.Note
		}
	}

	// a cancelled run context must not stop the row of an order that was already placed
	if err := b.journal.Append(context.WithoutCancel(ctx), entry); err != nil {
		sum.LogFailures++
		b.logger.Errorf("%s: can't log %s %s", err, entry.Action, entry.ProductID)
	}
}
