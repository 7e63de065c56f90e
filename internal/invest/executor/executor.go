package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/invest/instrument"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/retry"
	"github.com/STTM-NSU/crypto-buyer/internal/tools"
	"github.com/STTM-NSU/crypto-buyer/internal/venue"
)

const DryRunOrderID = "DRYRUN"

var _hundred = decimal.NewFromInt(100)

type Executor struct {
	venue  venue.Venue
	rules  *instrument.RulesService
	policy *retry.Policy
	cfg    config.OrdersConfig
	dryRun bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	logger logger.Logger
}

func NewExecutor(
	v venue.Venue,
	rules *instrument.RulesService,
	policy *retry.Policy,
	cfg config.OrdersConfig,
	dryRun bool,
	logger logger.Logger) *Executor {
	return &Executor{
		venue:  v,
		rules:  rules,
		policy: policy,
		cfg:    cfg,
		dryRun: dryRun,
		now:    time.Now,
		sleep:  tools.Sleep,
		logger: logger,
	}
}

// WithSleep swaps the wait between polls, tests use it to avoid real delays.
func (e *Executor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Executor {
	cp := *e
	cp.sleep = sleep
	return &cp
}

// Plan is the share of the remaining budget one instrument may take.
func (e *Executor) Plan(remaining decimal.Decimal) decimal.Decimal {
	if !remaining.IsPositive() {
		return decimal.Zero
	}
	return remaining.Mul(decimal.NewFromFloat(e.cfg.PercentPerTrade)).Div(_hundred)
}

func (e *Executor) MinNotional() decimal.Decimal {
	return decimal.NewFromFloat(e.cfg.MinNotional)
}

// Execute takes an intent through Planned -> Submitted -> Confirmed | Unconfirmed | Error,
// or straight to Skipped when the notional can't meet the minimums.
func (e *Executor) Execute(ctx context.Context, intent model.OrderIntent) model.Execution {
	ex := model.Execution{
		Intent: intent,
		Order:  model.Order{ProductID: intent.ProductID, Status: model.Planned},
		Status: model.Planned,
	}

	rules, err := e.rules.Rules(ctx, intent.ProductID)
	if err != nil {
		return e.fail(ex, err)
	}

	quote, err := instrument.Quantize(intent.PlannedNotional, rules, e.MinNotional())
	ex.Order.QuoteSize = quote
	if errors.Is(err, instrument.ErrBelowMinimum) {
		ex.Status, ex.Order.Status = model.Skipped, model.Skipped
		ex.Reason = fmt.Sprintf("notional $%s < $%s",
			intent.PlannedNotional.StringFixed(2), instrument.RequiredMinimum(rules, e.MinNotional()).StringFixed(2))
		return ex
	}
	if err != nil {
		return e.fail(ex, err)
	}

	if e.dryRun {
		ex.Order.ClientOrderID = e.clientOrderID(intent.ProductID)
		ex.Order.OrderID = DryRunOrderID
		ex.Status, ex.Order.Status = model.DryRun, model.DryRun
		e.logger.Infof("dry-run buy %s for $%s", intent.ProductID, quote.StringFixed(2))
		return ex
	}

	if ex.Order, err = e.Submit(ctx, ex.Order); err != nil {
		return e.fail(ex, err)
	}

	// the order is live at the venue: a stopping run still polls it to the end so the fill gets booked
	ex.Fills, ex.Status, err = e.Confirm(context.WithoutCancel(ctx), ex.Order)
	ex.Order.Status = ex.Status
	if err != nil {
		return e.fail(ex, err)
	}
	return ex
}

// Submit places a market buy by quote size. Every attempt carries a fresh client order id,
// so a retried submit whose first attempt did reach the venue may produce a second order.
func (e *Executor) Submit(ctx context.Context, o model.Order) (model.Order, error) {
	attempts := 0
	type submitted struct{ clientID, orderID string }

	res, err := retry.Call(ctx, e.policy, "market buy "+o.ProductID, func(ctx context.Context) (submitted, error) {
		clientID := e.clientOrderID(o.ProductID)
		if attempts++; attempts > 1 {
			e.logger.Warnf("resubmitting %s as %s: the previous attempt may have created an order", o.ProductID, clientID)
		}
		orderID, err := e.venue.MarketBuy(ctx, clientID, o.ProductID, o.QuoteSize)
		return submitted{clientID: clientID, orderID: orderID}, err
	})
	if err != nil {
		o.Status = model.Failed
		return o, fmt.Errorf("%w: can't submit %s", err, o.ProductID)
	}

	o.ClientOrderID = res.clientID
	o.OrderID = res.orderID
	if o.OrderID == "" {
		o.OrderID = res.clientID
	}
	o.Status = model.Submitted
	e.logger.Infof("submitted buy %s for $%s: order %s", o.ProductID, o.QuoteSize.StringFixed(2), o.OrderID)

	return o, nil
}

// Confirm polls fills until both base size and quote value are positive or the tries run out.
// Each poll is a single policy attempt: a transient failure uses up a try, any other
// failure is returned as an error.
func (e *Executor) Confirm(ctx context.Context, o model.Order) (model.FillSummary, model.OrderStatus, error) {
	var summary model.FillSummary
	for try := 1; try <= e.cfg.PollMaxTries; try++ {
		fills, err := retry.Call(ctx, e.policy.Once(), "list fills "+o.OrderID, func(ctx context.Context) ([]model.Fill, error) {
			return e.venue.ListFills(ctx, o.OrderID)
		})
		switch {
		case err == nil:
			summary = Summarize(fills)
			if summary.IsConfirmed() {
				e.logger.Infof("order %s filled: %s base for %s + %s fees",
					o.OrderID, summary.BaseQty, summary.QuoteValue.StringFixed(2), summary.Fees.StringFixed(2))
				return summary, model.Confirmed, nil
			}
		case retry.IsTransient(err):
			e.logger.Warnf("%s: poll %d/%d of order %s failed", err, try, e.cfg.PollMaxTries, o.OrderID)
		default:
			return summary, model.Failed, fmt.Errorf("%w: can't poll fills of %s", err, o.OrderID)
		}

		if try == e.cfg.PollMaxTries {
			break
		}
		if err := e.sleep(ctx, e.cfg.PollInterval()); err != nil {
			return summary, model.Failed, fmt.Errorf("%w: polling of %s interrupted", err, o.OrderID)
		}
	}

	e.logger.Warnf("order %s not confirmed after %d polls", o.OrderID, e.cfg.PollMaxTries)
	return summary, model.Unconfirmed, nil
}

func Summarize(fills []model.Fill) model.FillSummary {
	var s model.FillSummary
	for _, f := range fills {
		s.BaseQty = s.BaseQty.Add(f.BaseQty)
		s.QuoteValue = s.QuoteValue.Add(f.QuoteValue)
		s.Fees = s.Fees.Add(f.Fee)
		s.Count++
	}
	return s
}

func (e *Executor) fail(ex model.Execution, err error) model.Execution {
	ex.Status, ex.Order.Status = model.Failed, model.Failed
	ex.Err = err
	ex.Reason = err.Error()
	e.logger.Errorf("%s: buy %s failed", err, ex.Intent.ProductID)
	return ex
}

// clientOrderID is a name-based uuid of the product and the submission time.
func (e *Executor) clientOrderID(productID string) string {
	name := e.cfg.ClientOrderPrefix + "|" + productID + "|" + strconv.FormatInt(e.now().UnixNano(), 10)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
