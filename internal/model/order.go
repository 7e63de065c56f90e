package model

import "github.com/shopspring/decimal"

type OrderStatus string

const (
	Planned     OrderStatus = "planned"
	Submitted   OrderStatus = "submitted"
	Confirmed   OrderStatus = "confirmed"
	Unconfirmed OrderStatus = "unconfirmed"
	Skipped     OrderStatus = "skipped"
	DryRun      OrderStatus = "dry-run"
	Failed      OrderStatus = "error"
)

type OrderIntent struct {
	ProductID       string
	PlannedNotional decimal.Decimal
}

type Order struct {
	ClientOrderID string
	OrderID       string
	ProductID     string
	QuoteSize     decimal.Decimal
	Status        OrderStatus
}

type Fill struct {
	OrderID    string
	BaseQty    decimal.Decimal
	QuoteValue decimal.Decimal
	Fee        decimal.Decimal
}

// FillSummary is the aggregate of every fill seen for one order.
type FillSummary struct {
	BaseQty    decimal.Decimal
	QuoteValue decimal.Decimal
	Fees       decimal.Decimal
	Count      int
}

// Spent is the realized quote cost: matched value plus fees.
func (s FillSummary) Spent() decimal.Decimal {
	return s.QuoteValue.Add(s.Fees)
}

func (s FillSummary) IsConfirmed() bool {
	return s.BaseQty.IsPositive() && s.QuoteValue.IsPositive()
}

// Execution is the terminal outcome of one instrument's pass through the executor.
type Execution struct {
	Intent OrderIntent
	Order  Order
	Fills  FillSummary
	Status OrderStatus
	Reason string
	Err    error
}
