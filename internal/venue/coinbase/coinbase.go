package coinbase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"
	"resty.dev/v3"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/venue"
)

const (
	_portfoliosURL = "/api/v3/brokerage/portfolios"
	_accountsURL   = "/api/v3/brokerage/accounts"
	_productURL    = "/api/v3/brokerage/products/"
	_ordersURL     = "/api/v3/brokerage/orders"
	_fillsURL      = "/api/v3/brokerage/orders/historical/fills"
	_moveFundsURL  = "/api/v3/brokerage/portfolios/move_funds"
	_convertQuote  = "/api/v3/brokerage/convert/quote"
	_convertTrade  = "/api/v3/brokerage/convert/trade/"

	_accountsPageLimit = 250
	_maxPages          = 100
	_errorBodyLimit    = 512
)

var _json = sonic.Config{UseNumber: true}.Froze()

// Client is the Advanced Trade REST adapter.
type Client struct {
	c      *resty.Client
	cfg    config.CoinbaseConfig
	signer *signer
	now    func() time.Time

	limiter       ratelimit.Limiter
	ordersLimiter ratelimit.Limiter

	logger logger.Logger
}

var _ venue.Venue = (*Client)(nil)

func New(cfg config.CoinbaseConfig, logger logger.Logger) (*Client, error) {
	s, err := newSigner(cfg.APIKey, cfg.APISecret, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		c:             client,
		cfg:           cfg,
		signer:        s,
		now:           time.Now,
		limiter:       newLimiter(cfg.RequestsPerSecond),
		ordersLimiter: newLimiter(cfg.OrdersPerSecond),
		logger:        logger,
	}, nil
}

func newLimiter(rps int) ratelimit.Limiter {
	if rps <= 0 {
		return ratelimit.NewUnlimited()
	}
	return ratelimit.New(rps)
}

func (c *Client) Name() string {
	return string(config.Coinbase)
}

func (c *Client) Close() error {
	return c.c.Close()
}

func (c *Client) ListPortfolios(ctx context.Context) ([]model.Portfolio, error) {
	resp, err := c.do(ctx, http.MethodGet, _portfoliosURL, nil, nil, "list portfolios")
	if err != nil {
		return nil, err
	}

	items := venue.List(resp, "portfolios")
	out := make([]model.Portfolio, 0, len(items))
	for _, p := range items {
		if deleted, _ := venue.Field(p, false, "deleted").(bool); deleted {
			continue
		}
		id := venue.String(p, "", "uuid", "id", "portfolio_uuid")
		if id == "" {
			continue
		}
		out = append(out, model.Portfolio{
			ID:      id,
			Name:    venue.String(p, "", "name"),
			Default: strings.EqualFold(venue.String(p, "", "type"), "DEFAULT"),
		})
	}
	return out, nil
}

func (c *Client) ListAccounts(ctx context.Context, portfolioID string) ([]model.Account, error) {
	var (
		out    []model.Account
		cursor string
	)
	for page := 0; page < _maxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(_accountsPageLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		if portfolioID != "" {
			q.Set("retail_portfolio_id", portfolioID)
		}

		resp, err := c.do(ctx, http.MethodGet, _accountsURL, q, nil, "list accounts")
		if err != nil {
			return nil, err
		}

		for _, a := range venue.List(resp, "accounts") {
			out = append(out, model.Account{
				ID:          venue.String(a, "", "uuid", "id"),
				Currency:    strings.ToUpper(venue.String(a, "", "currency", "currency_symbol", "available_balance.currency")),
				Available:   venue.Amount(venue.Field(a, nil, "available_balance", "available")),
				PortfolioID: venue.String(a, portfolioID, "retail_portfolio_id", "portfolio_id"),
			})
		}

		hasNext, _ := venue.Field(resp, false, "has_next").(bool)
		cursor = venue.String(resp, "", "cursor")
		if !hasNext || cursor == "" {
			return out, nil
		}
	}

	c.logger.Warnf("accounts of portfolio %q truncated after %d pages", portfolioID, _maxPages)
	return out, nil
}

func (c *Client) GetProduct(ctx context.Context, productID string) (model.ProductRules, error) {
	resp, err := c.do(ctx, http.MethodGet, _productURL+url.PathEscape(productID), nil, nil, "get product "+productID)
	if err != nil {
		return model.ProductRules{}, err
	}

	if disabled, _ := venue.Field(resp, false, "trading_disabled").(bool); disabled {
		return model.ProductRules{}, fmt.Errorf("%w: trading disabled for %s", venue.ErrRejected, productID)
	}

	return model.ProductRules{
		ProductID:        venue.String(resp, productID, "product_id"),
		BaseIncrement:    venue.Amount(venue.Field(resp, nil, "base_increment")),
		QuoteIncrement:   venue.Amount(venue.Field(resp, nil, "quote_increment", "price_increment")),
		MinQuoteNotional: venue.Amount(venue.Field(resp, nil, "quote_min_size", "min_market_funds")),
		MinBaseSize:      venue.Amount(venue.Field(resp, nil, "base_min_size")),
	}, nil
}

type marketOrderRequest struct {
	ClientOrderID      string             `json:"client_order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	OrderConfiguration orderConfiguration `json:"order_configuration"`
}

type orderConfiguration struct {
	MarketIOC marketIOC `json:"market_market_ioc"`
}

type marketIOC struct {
	QuoteSize string `json:"quote_size"`
}

func (c *Client) MarketBuy(ctx context.Context, clientOrderID, productID string, quoteSize decimal.Decimal) (string, error) {
	if !quoteSize.IsPositive() {
		return "", fmt.Errorf("%w: quote size %s", venue.ErrInvalidInput, quoteSize)
	}

	c.ordersLimiter.Take()
	resp, err := c.do(ctx, http.MethodPost, _ordersURL, nil, marketOrderRequest{
		ClientOrderID: clientOrderID,
		ProductID:     productID,
		Side:          "BUY",
		OrderConfiguration: orderConfiguration{
			MarketIOC: marketIOC{QuoteSize: quoteSize.String()},
		},
	}, "market buy "+productID)
	if err != nil {
		return "", err
	}

	if ok, isBool := venue.Field(resp, true, "success").(bool); isBool && !ok {
		reason := venue.String(resp, "unknown reason",
			"error_response.message", "error_response.error", "failure_reason", "error_response.preview_failure_reason")
		return "", fmt.Errorf("%w: market buy %s: %s", venue.ErrRejected, productID, reason)
	}

	return venue.String(resp, "", "success_response.order_id", "order_id"), nil
}

func (c *Client) ListFills(ctx context.Context, orderID string) ([]model.Fill, error) {
	q := url.Values{}
	q.Set("order_ids", orderID)

	resp, err := c.do(ctx, http.MethodGet, _fillsURL, q, nil, "list fills "+orderID)
	if err != nil {
		return nil, err
	}

	items := venue.List(resp, "fills")
	out := make([]model.Fill, 0, len(items))
	for _, f := range items {
		out = append(out, parseFill(f, orderID))
	}
	return out, nil
}

func parseFill(f any, orderID string) model.Fill {
	price := venue.Amount(venue.Field(f, nil, "price", "average_filled_price"))
	size := venue.Amount(venue.Field(f, nil, "size", "filled_size", "filled_quantity"))
	inQuote, _ := venue.Field(f, false, "size_in_quote").(bool)

	fill := model.Fill{
		OrderID:    venue.String(f, orderID, "order_id"),
		Fee:        venue.Amount(venue.Field(f, nil, "commission", "fee", "total_fees")),
		QuoteValue: venue.Amount(venue.Field(f, nil, "quote_value", "commissionable_value", "filled_value")),
	}

	switch {
	case inQuote:
		if fill.QuoteValue.IsZero() {
			fill.QuoteValue = size
		}
		if price.IsPositive() {
			fill.BaseQty = size.DivRound(price, 16)
		}
	default:
		fill.BaseQty = size
		if fill.QuoteValue.IsZero() {
			fill.QuoteValue = price.Mul(size)
		}
	}
	return fill
}

type moveFundsRequest struct {
	Funds  funds  `json:"funds"`
	Source string `json:"source_portfolio_uuid"`
	Target string `json:"target_portfolio_uuid"`
}

type funds struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func (c *Client) MoveFunds(ctx context.Context, fromPortfolioID, toPortfolioID, currency string, amount decimal.Decimal) error {
	if fromPortfolioID == toPortfolioID {
		return fmt.Errorf("%w: move into the same portfolio %s", venue.ErrInvalidInput, fromPortfolioID)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: move amount %s", venue.ErrInvalidInput, amount)
	}

	_, err := c.do(ctx, http.MethodPost, _moveFundsURL, nil, moveFundsRequest{
		Funds:  funds{Value: amount.String(), Currency: strings.ToUpper(currency)},
		Source: fromPortfolioID,
		Target: toPortfolioID,
	}, "move funds "+currency)
	return err
}

type convertQuoteRequest struct {
	From   string `json:"from_account"`
	To     string `json:"to_account"`
	Amount string `json:"amount"`
}

type convertTradeRequest struct {
	From string `json:"from_account"`
	To   string `json:"to_account"`
}

// Convert asks for a quote and commits it; both legs address accounts, not currencies.
func (c *Client) Convert(ctx context.Context, portfolioID, from, to string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: convert amount %s", venue.ErrInvalidInput, amount)
	}

	accounts, err := c.ListAccounts(ctx, portfolioID)
	if err != nil {
		return "", fmt.Errorf("%w: can't resolve convert accounts", err)
	}
	fromAccount, toAccount := accountFor(accounts, from), accountFor(accounts, to)
	if fromAccount == "" || toAccount == "" {
		return "", fmt.Errorf("%w: convert %s -> %s in portfolio %q", venue.ErrNoAccount, from, to, portfolioID)
	}

	quote, err := c.do(ctx, http.MethodPost, _convertQuote, nil, convertQuoteRequest{
		From:   fromAccount,
		To:     toAccount,
		Amount: amount.String(),
	}, "convert quote")
	if err != nil {
		return "", err
	}

	tradeID := venue.String(quote, "", "trade.id", "trade_id", "id")
	if tradeID == "" {
		return "", fmt.Errorf("%w: convert quote without trade id", venue.ErrRejected)
	}

	trade, err := c.do(ctx, http.MethodPost, _convertTrade+url.PathEscape(tradeID), nil, convertTradeRequest{
		From: fromAccount,
		To:   toAccount,
	}, "convert commit")
	if err != nil {
		return "", err
	}

	if status := strings.ToUpper(venue.String(trade, "", "trade.status", "status")); strings.Contains(status, "FAIL") {
		return "", fmt.Errorf("%w: convert trade %s %s", venue.ErrRejected, tradeID, status)
	}
	return tradeID, nil
}

func accountFor(accounts []model.Account, currency string) string {
	for _, a := range accounts {
		if strings.EqualFold(a.Currency, currency) {
			return a.ID
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, op string) (map[string]any, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = _json.Marshal(body); err != nil {
			return nil, fmt.Errorf("%w: can't encode %s request", err, op)
		}
	}

	token, err := c.signer.token(method, path, c.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, op)
	}
	req := c.c.R().
		SetContext(ctx).
		SetAuthScheme("Bearer").
		SetAuthToken(token)
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	c.limiter.Take()
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%w: can't send %s request", err, op)
	}

	c.logger.Debugf("got response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())

	raw := resp.Bytes()
	if !resp.IsSuccess() {
		text := strings.TrimSpace(string(raw))
		if len(text) > _errorBodyLimit {
			text = text[:_errorBodyLimit]
		}
		return nil, &venue.StatusError{Op: op, Status: resp.StatusCode(), Body: text}
	}

	out := make(map[string]any)
	if len(raw) == 0 {
		return out, nil
	}
	if err := _json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: can't decode %s response", err, op)
	}
	return out, nil
}
