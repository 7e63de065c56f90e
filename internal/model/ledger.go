package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionBuy     Action = "CRYPTO-BUY"
	ActionSkip    Action = "CRYPTO-BUY-SKIP"
	ActionError   Action = "CRYPTO-BUY-ERROR"
	ActionSweep   Action = "CRYPTO-SWEEP"
	ActionConvert Action = "CRYPTO-CONVERT"
)

type CostBasisRecord struct {
	ProductID  string
	Qty        decimal.Decimal
	DollarCost decimal.Decimal
	AvgCost    decimal.Decimal
	UpdatedAt  time.Time
}

type LogEntry struct {
	Timestamp time.Time
	Action    Action
	ProductID string
	Quote     decimal.Decimal
	BaseQty   decimal.Decimal
	OrderID   string
	Status    string
	Note      string
}
