package portfolio

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/retry"
	"github.com/STTM-NSU/crypto-buyer/internal/venue"
)

// Service resolves the routing target and reads point-in-time balances.
// Balances are never cached: every call goes to the venue.
type Service struct {
	venue  venue.Venue
	policy *retry.Policy
	cfg    config.FundingConfig

	logger logger.Logger
}

func NewService(v venue.Venue, policy *retry.Policy, cfg config.FundingConfig, logger logger.Logger) *Service {
	return &Service{
		venue:  v,
		policy: policy,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *Service) ListPortfolios(ctx context.Context) ([]model.Portfolio, error) {
	ps, err := retry.Call(ctx, s.policy, "list portfolios", s.venue.ListPortfolios)
	if err != nil {
		return nil, fmt.Errorf("%w: can't list portfolios", err)
	}
	return ps, nil
}

// ResolveTarget picks the configured portfolio id, then a case-insensitive name match.
// ok=false means the credential's default portfolio, addressed by an empty id.
func (s *Service) ResolveTarget(ctx context.Context) (model.Portfolio, bool, error) {
	if s.cfg.TargetPortfolioID == "" && s.cfg.TargetPortfolioName == "" {
		return model.Portfolio{}, false, nil
	}

	ps, err := s.ListPortfolios(ctx)
	if err != nil {
		return model.Portfolio{}, false, err
	}

	if id := s.cfg.TargetPortfolioID; id != "" {
		for _, p := range ps {
			if p.ID == id {
				return p, true, nil
			}
		}
		return model.Portfolio{}, false, fmt.Errorf("%w: target portfolio %s", venue.ErrNotFound, id)
	}

	for _, p := range ps {
		if strings.EqualFold(strings.TrimSpace(p.Name), s.cfg.TargetPortfolioName) {
			return p, true, nil
		}
	}

	s.logger.Warnf("no portfolio named %q, using the default one", s.cfg.TargetPortfolioName)
	return model.Portfolio{}, false, nil
}

// Balances sums the available amount per currency of one portfolio.
func (s *Service) Balances(ctx context.Context, portfolioID string) (model.Balances, error) {
	accounts, err := retry.Call(ctx, s.policy, "list accounts", func(ctx context.Context) ([]model.Account, error) {
		return s.venue.ListAccounts(ctx, portfolioID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: can't get balances of portfolio %q", err, portfolioID)
	}

	b := make(model.Balances)
	for _, a := range accounts {
		amount := a.Available
		if amount.IsNegative() {
			amount = decimal.Zero
		}
		b.Add(a.Currency, amount)
	}
	return b, nil
}

// Spendable is what the budget may draw on: settlement plus, when conversion is on, the substitute.
func (s *Service) Spendable(b model.Balances) decimal.Decimal {
	total := b.Get(s.cfg.SettlementCurrency)
	if s.cfg.ConvertEnabled {
		total = total.Add(b.Get(s.cfg.SubstituteCurrency))
	}
	return total
}

// SuggestBetterFunded reports the portfolio holding most settlement currency when the
// target holds none. It only logs a hint and never changes the routing target.
func (s *Service) SuggestBetterFunded(ctx context.Context, target model.Portfolio, targetBalances model.Balances) (model.Portfolio, decimal.Decimal, bool) {
	if targetBalances.Get(s.cfg.SettlementCurrency).IsPositive() {
		return model.Portfolio{}, decimal.Zero, false
	}

	ps, err := s.ListPortfolios(ctx)
	if err != nil {
		s.logger.Warnf("%s: can't look for a better funded portfolio", err)
		return model.Portfolio{}, decimal.Zero, false
	}

	var (
		best       model.Portfolio
		bestAmount = decimal.Zero
	)
	for _, p := range ps {
		if p.ID == target.ID {
			continue
		}
		b, err := s.Balances(ctx, p.ID)
		if err != nil {
			s.logger.Warnf("%s: skip portfolio %s", err, p.Name)
			continue
		}
		if amount := b.Get(s.cfg.SettlementCurrency); amount.GreaterThan(bestAmount) {
			best, bestAmount = p, amount
		}
	}

	if !bestAmount.IsPositive() {
		return model.Portfolio{}, decimal.Zero, false
	}

	s.logger.Infof("target portfolio %q has no %s, portfolio %q (%s) holds %s",
		target.Name, s.cfg.SettlementCurrency, best.Name, best.ID, bestAmount.StringFixed(2))
	return best, bestAmount, true
}
