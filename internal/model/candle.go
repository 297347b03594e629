package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an OHLC bar for one symbol and timeframe.
// Invariant: Low <= min(Open, Close) and High >= max(Open, Close).
// One candle exists per (Symbol, Timeframe, BucketStart); re-aggregation overwrites.
type Candle struct {
	Symbol      string          `json:"symbol"`
	Timeframe   Timeframe       `json:"timeframe"`
	BucketStart time.Time       `json:"bucket_start"` // UTC, timeframe-aligned
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      int64           `json:"volume"` // not derivable from ticks, always 0 from the aggregator
	Source      string          `json:"source"`
}

// Key returns "symbol:timeframe:bucketUnix", the upsert identity of the candle.
func (c *Candle) Key() string {
	return c.Symbol + ":" + string(c.Timeframe) + ":" + strconv.FormatInt(c.BucketStart.Unix(), 10)
}

// JSON returns the JSON-encoded candle.
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Bar is one point of a close-price series as returned by the historical store.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
}

// Closes extracts the close prices of bars, preserving order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
