package funds

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/invest/portfolio"
	"github.com/STTM-NSU/crypto-buyer/internal/ledger"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/retry"
	"github.com/STTM-NSU/crypto-buyer/internal/tools"
	"github.com/STTM-NSU/crypto-buyer/internal/venue"
)

var _hundred = decimal.NewFromInt(100)

// Router moves settlement money into the target portfolio: sweeping other portfolios
// and converting the substitute currency.
type Router struct {
	venue     venue.Venue
	portfolio *portfolio.Service
	journal   *ledger.Journal
	policy    *retry.Policy
	cfg       config.FundingConfig
	dryRun    bool

	sleep func(ctx context.Context, d time.Duration) error

	logger logger.Logger
}

func NewRouter(
	v venue.Venue,
	portfolioService *portfolio.Service,
	journal *ledger.Journal,
	policy *retry.Policy,
	cfg config.FundingConfig,
	dryRun bool,
	logger logger.Logger) *Router {
	return &Router{
		venue:     v,
		portfolio: portfolioService,
		journal:   journal,
		policy:    policy,
		cfg:       cfg,
		dryRun:    dryRun,
		sleep:     tools.Sleep,
		logger:    logger,
	}
}

type SweepResult struct {
	Moved  int
	Failed int
}

// Sweep moves every settlement and substitute balance at or above the dust threshold
// from the other portfolios into target, or into the venue's default portfolio when
// target has no id. Failures are logged and skipped.
func (r *Router) Sweep(ctx context.Context, target model.Portfolio) (SweepResult, error) {
	var res SweepResult
	if !r.cfg.SweepEnabled {
		return res, nil
	}

	ps, err := r.portfolio.ListPortfolios(ctx)
	if err != nil {
		return res, err
	}

	if target.ID == "" {
		i := slices.IndexFunc(ps, func(p model.Portfolio) bool { return p.Default })
		if i < 0 {
			r.logger.Warnf("venue reports no default portfolio, sweep skipped")
			return res, nil
		}
		target = ps[i]
	}

	dust := decimal.NewFromFloat(r.cfg.SweepDustThreshold)
	for _, p := range ps {
		if p.ID == target.ID {
			continue
		}

		balances, err := r.portfolio.Balances(ctx, p.ID)
		if err != nil {
			r.logger.Warnf("%s: skip sweeping portfolio %q", err, p.Name)
			res.Failed++
			continue
		}

		for _, currency := range []string{r.cfg.SettlementCurrency, r.cfg.SubstituteCurrency} {
			amount := balances.Get(currency)
			if amount.LessThan(dust) || !amount.IsPositive() {
				continue
			}

			entry := model.LogEntry{
				Action:    model.ActionSweep,
				ProductID: currency,
				Quote:     amount,
				Note:      fmt.Sprintf("%s -> %s", p.Name, target.Name),
			}

			switch {
			case r.dryRun:
				entry.Status = string(model.DryRun)
				res.Moved++
			default:
				err := r.policy.Do(ctx, "move funds", func(ctx context.Context) error {
					return r.venue.MoveFunds(ctx, p.ID, target.ID, currency, amount)
				})
				if err != nil {
					r.logger.Errorf("%s: can't sweep %s %s from %q", err, amount, currency, p.Name)
					entry.Status = string(model.Failed)
					entry.Note = entry.Note + ": " + err.Error()
					res.Failed++
				} else {
					entry.Status = string(model.Submitted)
					res.Moved++
				}
			}

			r.logger.Infof("sweep %s %s from %q to %q: %s", amount, currency, p.Name, target.Name, entry.Status)
			r.appendLog(ctx, entry)
		}
	}

	return res, nil
}

type ConvertResult struct {
	Amount  decimal.Decimal
	TradeID string
	// Balances are re-read after the settle delay; in dry-run they are simulated.
	Balances   model.Balances
	StillShort bool
}

// Convert tops the settlement balance up by shortfall (plus padding) from the substitute
// currency, capped at what the substitute holds, then waits and re-reads the target.
func (r *Router) Convert(ctx context.Context, target model.Portfolio, shortfall decimal.Decimal) (ConvertResult, error) {
	var res ConvertResult
	if !r.cfg.ConvertEnabled || !shortfall.IsPositive() {
		return res, nil
	}

	before, err := r.portfolio.Balances(ctx, target.ID)
	if err != nil {
		return res, err
	}
	res.Balances = before

	available := before.Get(r.cfg.SubstituteCurrency)
	if !available.IsPositive() {
		res.StillShort = true
		return res, nil
	}

	padded := shortfall.Mul(_hundred.Add(decimal.NewFromFloat(r.cfg.ConvertPaddingPct))).Div(_hundred).RoundUp(2)
	res.Amount = decimal.Min(padded, available)

	entry := model.LogEntry{
		Action:    model.ActionConvert,
		ProductID: r.cfg.SubstituteCurrency + "-" + r.cfg.SettlementCurrency,
		Quote:     res.Amount,
		Note:      fmt.Sprintf("shortfall %s", shortfall.StringFixed(2)),
	}

	if r.dryRun {
		simulated := make(model.Balances, len(before))
		for c, v := range before {
			simulated[c] = v
		}
		simulated.Add(r.cfg.SubstituteCurrency, res.Amount.Neg())
		simulated.Add(r.cfg.SettlementCurrency, res.Amount)
		res.Balances = simulated

		entry.Status = string(model.DryRun)
		r.logger.Infof("dry-run convert %s %s -> %s", res.Amount, r.cfg.SubstituteCurrency, r.cfg.SettlementCurrency)
		r.appendLog(ctx, entry)
		res.StillShort = simulated.Get(r.cfg.SettlementCurrency).LessThan(before.Get(r.cfg.SettlementCurrency).Add(shortfall))
		return res, nil
	}

	res.TradeID, err = retry.Call(ctx, r.policy, "convert", func(ctx context.Context) (string, error) {
		return r.venue.Convert(ctx, target.ID, r.cfg.SubstituteCurrency, r.cfg.SettlementCurrency, res.Amount)
	})
	if err != nil {
		entry.Status = string(model.Failed)
		entry.Note = entry.Note + ": " + err.Error()
		r.appendLog(ctx, entry)
		return res, fmt.Errorf("%w: can't convert %s %s", err, res.Amount, r.cfg.SubstituteCurrency)
	}

	entry.Status = string(model.Submitted)
	entry.OrderID = res.TradeID
	r.appendLog(ctx, entry)
	r.logger.Infof("converted %s %s -> %s (trade %s), waiting %s", res.Amount,
		r.cfg.SubstituteCurrency, r.cfg.SettlementCurrency, res.TradeID, r.cfg.ConvertSettleDelay())

	if err := r.sleep(ctx, r.cfg.ConvertSettleDelay()); err != nil {
		return res, fmt.Errorf("%w: convert settle wait interrupted", err)
	}

	after, err := r.portfolio.Balances(ctx, target.ID)
	if err != nil {
		return res, err
	}
	res.Balances = after

	want := before.Get(r.cfg.SettlementCurrency).Add(shortfall)
	if after.Get(r.cfg.SettlementCurrency).LessThan(want) {
		res.StillShort = true
		r.logger.Warnf("%s still insufficient after convert: %s < %s",
			r.cfg.SettlementCurrency, after.Get(r.cfg.SettlementCurrency).StringFixed(2), want.StringFixed(2))
	}
	return res, nil
}

func (r *Router) appendLog(ctx context.Context, e model.LogEntry) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Append(ctx, e); err != nil {
		r.logger.Errorf("%s: can't log %s", err, e.Action)
	}
}
