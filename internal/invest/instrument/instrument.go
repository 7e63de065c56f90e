package instrument

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"

	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/retry"
	"github.com/STTM-NSU/crypto-buyer/internal/tools"
	"github.com/STTM-NSU/crypto-buyer/internal/venue"
)

var ErrBelowMinimum = errors.New("notional below minimum")

const (
	_rulesTTL     = 24 * time.Hour // one run
	_rulesMaxCost = 1 << 12
)

// _defaultQuoteStep is used when the venue reports no quote increment.
var _defaultQuoteStep = decimal.New(1, -2)

type RulesService struct {
	venue  venue.Venue
	policy *retry.Policy
	cache  *ristretto.Cache

	logger logger.Logger
}

func NewRulesService(v venue.Venue, policy *retry.Policy, logger logger.Logger) (*RulesService, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     _rulesMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: can't create rules cache", err)
	}

	return &RulesService{
		venue:  v,
		policy: policy,
		cache:  c,
		logger: logger,
	}, nil
}

func (s *RulesService) Close() {
	s.cache.Close()
}

// Rules returns the product rules, asking the venue only on the first use in a run.
func (s *RulesService) Rules(ctx context.Context, productID string) (model.ProductRules, error) {
	key := strings.ToUpper(productID)
	if v, ok := s.cache.Get(key); ok {
		if rules, ok := v.(model.ProductRules); ok {
			return rules, nil
		}
	}

	rules, err := retry.Call(ctx, s.policy, "get product "+key, func(ctx context.Context) (model.ProductRules, error) {
		return s.venue.GetProduct(ctx, key)
	})
	if err != nil {
		return model.ProductRules{}, fmt.Errorf("%w: can't get rules for %s", err, key)
	}
	if rules.ProductID == "" {
		rules.ProductID = key
	}

	s.cache.SetWithTTL(key, rules, 1, _rulesTTL)
	s.cache.Wait()
	s.logger.Debugf("rules %s: quote step %s min notional %s base step %s",
		key, rules.QuoteIncrement, rules.MinQuoteNotional, rules.BaseIncrement)

	return rules, nil
}

// Quantize floors notional to the quote increment and checks it against
// max(minNotional, rules.MinQuoteNotional).
func Quantize(notional decimal.Decimal, rules model.ProductRules, minNotional decimal.Decimal) (decimal.Decimal, error) {
	step := rules.QuoteIncrement
	if !step.IsPositive() {
		step = _defaultQuoteStep
	}
	q := tools.RoundDownToStep(notional, step)

	required := RequiredMinimum(rules, minNotional)
	if !q.IsPositive() || q.LessThan(required) {
		return q, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, q.StringFixed(2), required.StringFixed(2))
	}
	return q, nil
}

func RequiredMinimum(rules model.ProductRules, minNotional decimal.Decimal) decimal.Decimal {
	return decimal.Max(minNotional, rules.MinQuoteNotional)
}
