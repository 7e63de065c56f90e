package model

import "github.com/shopspring/decimal"

// ProductRules are the venue-defined step sizes and minimums of one instrument.
type ProductRules struct {
	ProductID        string          `json:"product_id"`
	BaseIncrement    decimal.Decimal `json:"base_increment"`
	QuoteIncrement   decimal.Decimal `json:"quote_increment"`
	MinQuoteNotional decimal.Decimal `json:"quote_min_size"`
	MinBaseSize      decimal.Decimal `json:"base_min_size"`
}
