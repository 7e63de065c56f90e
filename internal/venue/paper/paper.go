// Package paper is an in-memory venue: balances per portfolio, instant or delayed fills,
// proportional fees, transfers and conversions. Nothing leaves the process.
package paper

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/tools"
	"github.com/STTM-NSU/crypto-buyer/internal/venue"
)

const (
	OpListPortfolios = "list_portfolios"
	OpListAccounts   = "list_accounts"
	OpGetProduct     = "get_product"
	OpMarketBuy      = "market_buy"
	OpListFills      = "list_fills"
	OpMoveFunds      = "move_funds"
	OpConvert        = "convert"
)

type product struct {
	rules model.ProductRules
	price decimal.Decimal
}

type order struct {
	id        string
	productID string
	fill      model.Fill
	polls     int
}

type fault struct {
	err   error
	times int
}

type Venue struct {
	logger logger.Logger

	mu               sync.Mutex
	defaultPortfolio string
	portfolios       []model.Portfolio
	balances         map[string]model.Balances
	products         map[string]product
	orders           map[string]*order
	feeRate          decimal.Decimal
	fillAfterPolls   int
	seq              int

	calls  map[string]int
	faults map[string][]fault
}

var _ venue.Venue = (*Venue)(nil)

func New(cfg config.PaperConfig, logger logger.Logger) *Venue {
	v := &Venue{
		logger:           logger,
		defaultPortfolio: cfg.DefaultPortfolio,
		balances:         make(map[string]model.Balances),
		products:         make(map[string]product),
		orders:           make(map[string]*order),
		feeRate:          decimal.NewFromFloat(cfg.FeeRate),
		fillAfterPolls:   cfg.FillAfterPolls,
		calls:            make(map[string]int),
		faults:           make(map[string][]fault),
	}

	for _, p := range cfg.Portfolios {
		v.portfolios = append(v.portfolios, model.Portfolio{ID: p.ID, Name: p.Name})
		b := make(model.Balances)
		for _, bal := range p.Balances {
			b.Add(bal.Currency, decimal.NewFromFloat(bal.Amount))
		}
		v.balances[p.ID] = b
	}
	if v.defaultPortfolio == "" && len(v.portfolios) > 0 {
		v.defaultPortfolio = v.portfolios[0].ID
	}
	for i := range v.portfolios {
		v.portfolios[i].Default = v.portfolios[i].ID == v.defaultPortfolio
	}

	for id, p := range cfg.Products {
		id = strings.ToUpper(id)
		v.products[id] = product{
			price: decimal.NewFromFloat(p.Price),
			rules: model.ProductRules{
				ProductID:        id,
				BaseIncrement:    decimal.NewFromFloat(p.BaseIncrement),
				QuoteIncrement:   decimal.NewFromFloat(p.QuoteIncrement),
				MinQuoteNotional: decimal.NewFromFloat(p.QuoteMinSize),
				MinBaseSize:      decimal.NewFromFloat(p.BaseMinSize),
			},
		}
	}

	return v
}

func (v *Venue) Name() string {
	return string(config.Paper)
}

// Fail makes the next times calls of op return err.
func (v *Venue) Fail(op string, times int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults[op] = append(v.faults[op], fault{err: err, times: times})
}

// Calls reports how many times op was invoked, failed calls included.
func (v *Venue) Calls(op string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[op]
}

func (v *Venue) Balance(portfolioID, currency string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[v.portfolioOrDefault(portfolioID)].Get(currency)
}

func (v *Venue) SetBalance(portfolioID, currency string, amount decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.balances[portfolioID]
	if !ok {
		b = make(model.Balances)
		v.balances[portfolioID] = b
	}
	b[strings.ToUpper(currency)] = amount
}

// call counts the invocation and pops an injected fault. Callers hold mu.
func (v *Venue) call(op string) error {
	v.calls[op]++
	fs := v.faults[op]
	if len(fs) == 0 {
		return nil
	}
	err := fs[0].err
	fs[0].times--
	if fs[0].times <= 0 {
		fs = fs[1:]
	}
	v.faults[op] = fs
	return err
}

func (v *Venue) portfolioOrDefault(id string) string {
	if id == "" {
		return v.defaultPortfolio
	}
	return id
}

func (v *Venue) ListPortfolios(ctx context.Context) ([]model.Portfolio, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.call(OpListPortfolios); err != nil {
		return nil, err
	}
	return slices.Clone(v.portfolios), nil
}

func (v *Venue) ListAccounts(ctx context.Context, portfolioID string) ([]model.Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.call(OpListAccounts); err != nil {
		return nil, err
	}

	portfolioID = v.portfolioOrDefault(portfolioID)
	b, ok := v.balances[portfolioID]
	if !ok {
		return nil, fmt.Errorf("%w: portfolio %s", venue.ErrNotFound, portfolioID)
	}

	currencies := make([]string, 0, len(b))
	for c := range b {
		currencies = append(currencies, c)
	}
	slices.Sort(currencies)

	out := make([]model.Account, 0, len(currencies))
	for _, c := range currencies {
		out = append(out, model.Account{
			ID:          portfolioID + ":" + c,
			Currency:    c,
			Available:   b[c],
			PortfolioID: portfolioID,
		})
	}
	return out, nil
}

func (v *Venue) GetProduct(ctx context.Context, productID string) (model.ProductRules, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.call(OpGetProduct); err != nil {
		return model.ProductRules{}, err
	}

	p, ok := v.products[strings.ToUpper(productID)]
	if !ok {
		return model.ProductRules{}, fmt.Errorf("%w: product %s", venue.ErrNotFound, productID)
	}
	return p.rules, nil
}

// MarketBuy spends quoteSize of the quote currency of the default portfolio; the fee is
// taken out of it, so the matched value is quoteSize/(1+fee rate).
func (v *Venue) MarketBuy(ctx context.Context, clientOrderID, productID string, quoteSize decimal.Decimal) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.call(OpMarketBuy); err != nil {
		return "", err
	}

	productID = strings.ToUpper(productID)
	p, ok := v.products[productID]
	if !ok {
		return "", fmt.Errorf("%w: product %s", venue.ErrNotFound, productID)
	}
	base, quote, found := strings.Cut(productID, "-")
	if !found || !p.price.IsPositive() {
		return "", fmt.Errorf("%w: product %s can't be traded", venue.ErrRejected, productID)
	}
	if !quoteSize.IsPositive() {
		return "", fmt.Errorf("%w: quote size %s", venue.ErrInvalidInput, quoteSize)
	}
	if quoteSize.LessThan(p.rules.MinQuoteNotional) {
		return "", fmt.Errorf("%w: quote size %s below minimum %s", venue.ErrRejected, quoteSize, p.rules.MinQuoteNotional)
	}

	if !tools.IsMultipleOf(quoteSize, p.rules.QuoteIncrement) {
		return "", fmt.Errorf("%w: quote size %s is not a multiple of %s", venue.ErrRejected, quoteSize, p.rules.QuoteIncrement)
	}

	b := v.balances[v.defaultPortfolio]
	if b == nil || b.Get(quote).LessThan(quoteSize) {
		return "", fmt.Errorf("%w: insufficient %s for %s", venue.ErrRejected, quote, productID)
	}

	value := quoteSize.DivRound(decimal.NewFromInt(1).Add(v.feeRate), 8)
	fee := quoteSize.Sub(value)
	qty := value.DivRound(p.price, 16)
	if p.rules.BaseIncrement.IsPositive() {
		qty = qty.Div(p.rules.BaseIncrement).Floor().Mul(p.rules.BaseIncrement)
	}

	b.Add(quote, quoteSize.Neg())
	b.Add(base, qty)

	v.seq++
	id := "paper-" + strconv.Itoa(v.seq)
	v.orders[id] = &order{
		id:        id,
		productID: productID,
		fill: model.Fill{
			OrderID:    id,
			BaseQty:    qty,
			QuoteValue: value,
			Fee:        fee,
		},
	}
	v.logger.Debugf("paper buy %s %s for %s %s (client %s)", productID, qty, quoteSize, quote, clientOrderID)

	return id, nil
}

// ListFills hides the fill of an order until it was polled fill_after_polls times.
func (v *Venue) ListFills(ctx context.Context, orderID string) ([]model.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.call(OpListFills); err != nil {
		return nil, err
	}

	o, ok := v.orders[orderID]
	if !ok {
		return nil, nil
	}
	o.polls++
	if v.fillAfterPolls < 0 || o.polls <= v.fillAfterPolls {
		return nil, nil
	}
	return []model.Fill{o.fill}, nil
}

func (v *Venue) MoveFunds(ctx context.Context, fromPortfolioID, toPortfolioID, currency string, amount decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.call(OpMoveFunds); err != nil {
		return err
	}

	if fromPortfolioID == toPortfolioID {
		return fmt.Errorf("%w: move into the same portfolio %s", venue.ErrInvalidInput, fromPortfolioID)
	}
	from, ok := v.balances[fromPortfolioID]
	if !ok {
		return fmt.Errorf("%w: portfolio %s", venue.ErrNotFound, fromPortfolioID)
	}
	to, ok := v.balances[toPortfolioID]
	if !ok {
		return fmt.Errorf("%w: portfolio %s", venue.ErrNotFound, toPortfolioID)
	}
	if !amount.IsPositive() || from.Get(currency).LessThan(amount) {
		return fmt.Errorf("%w: can't move %s %s", venue.ErrRejected, amount, currency)
	}

	from.Add(currency, amount.Neg())
	to.Add(currency, amount)
	return nil
}

// Convert uses the FROM-TO product price when there is one, otherwise 1:1.
func (v *Venue) Convert(ctx context.Context, portfolioID, from, to string, amount decimal.Decimal) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.call(OpConvert); err != nil {
		return "", err
	}

	portfolioID = v.portfolioOrDefault(portfolioID)
	b, ok := v.balances[portfolioID]
	if !ok {
		return "", fmt.Errorf("%w: portfolio %s", venue.ErrNotFound, portfolioID)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: convert amount %s", venue.ErrInvalidInput, amount)
	}
	if b.Get(from).LessThan(amount) {
		return "", fmt.Errorf("%w: insufficient %s to convert", venue.ErrRejected, from)
	}

	rate := decimal.NewFromInt(1)
	if p, ok := v.products[strings.ToUpper(from+"-"+to)]; ok && p.price.IsPositive() {
		rate = p.price
	}

	b.Add(from, amount.Neg())
	b.Add(to, amount.Mul(rate))

	v.seq++
	return "paper-convert-" + strconv.Itoa(v.seq), nil
}
