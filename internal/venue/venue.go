package venue

import (
	"context"
	"errors"
	"fmt"

	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRejected     = errors.New("rejected by venue")
	ErrNoAccount    = errors.New("no account for currency")
	ErrInvalidInput = errors.New("invalid input")
)

// Venue is the single adapter surface the engine talks to. Implementations decode the
// venue's responses into model types; nothing above this interface sees raw payloads.
type Venue interface {
	Name() string

	ListPortfolios(ctx context.Context) ([]model.Portfolio, error)
	// ListAccounts lists accounts of portfolioID, or of the credential's default portfolio when empty.
	ListAccounts(ctx context.Context, portfolioID string) ([]model.Account, error)
	GetProduct(ctx context.Context, productID string) (model.ProductRules, error)

	// MarketBuy submits a market buy sized in quote currency and returns the venue order id.
	MarketBuy(ctx context.Context, clientOrderID, productID string, quoteSize decimal.Decimal) (string, error)
	ListFills(ctx context.Context, orderID string) ([]model.Fill, error)

	MoveFunds(ctx context.Context, fromPortfolioID, toPortfolioID, currency string, amount decimal.Decimal) error
	// Convert exchanges amount of from into to inside portfolioID and returns the venue trade id.
	Convert(ctx context.Context, portfolioID, from, to string, amount decimal.Decimal) (string, error)
}

// StatusError is an unsuccessful HTTP answer. Its text carries the status so that
// retry markers (429, 5xx) match on it.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Status == 404 {
		return ErrNotFound
	}
	return nil
}
