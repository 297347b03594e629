package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is a single quote from the market-data feed.
// Ticks are immutable and ordered by timestamp per symbol.
type PriceTick struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"` // UTC
	Price     decimal.Decimal `json:"price"`
}
