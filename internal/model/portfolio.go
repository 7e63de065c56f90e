package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Portfolio struct {
	ID   string `json:"uuid"`
	Name string `json:"name"`
	// Default marks the portfolio the credential trades from when no id is given.
	Default bool `json:"-"`
}

// Account is one currency wallet inside a portfolio as the venue reports it.
type Account struct {
	ID          string          `json:"uuid"`
	Currency    string          `json:"currency"`
	Available   decimal.Decimal `json:"available"`
	PortfolioID string          `json:"portfolio_id"`
}

// Balances maps an upper-cased currency code to the available amount.
type Balances map[string]decimal.Decimal

func (b Balances) Get(currency string) decimal.Decimal {
	return b[strings.ToUpper(currency)]
}

func (b Balances) Add(currency string, amount decimal.Decimal) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if c == "" {
		return
	}
	b[c] = b[c].Add(amount)
}
