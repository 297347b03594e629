// Package agg builds fixed-width OHLC candles from a symbol's price ticks.
package agg

import (
	"fmt"
	"sort"

	"forex-backtest/internal/model"
)

// DefaultMinTicks is the fewest ticks a symbol needs in the window before it
// is aggregated at all.
const DefaultMinTicks = 100

// Result is the outcome of aggregating one symbol.
type Result struct {
	Symbol  string
	Candles []model.Candle
	Ticks   int
	Skipped bool // too few ticks, no candles produced
}

// Aggregator groups ticks into candles of a single timeframe.
// It holds no state between calls and is safe for concurrent use.
type Aggregator struct {
	Timeframe model.Timeframe
	MinTicks  int    // below this, the symbol is skipped; <=0 means DefaultMinTicks
	Source    string // recorded on every candle
}

// New creates an Aggregator for tf with the default minimum-data policy.
func New(tf model.Timeframe, source string) *Aggregator {
	return &Aggregator{Timeframe: tf, MinTicks: DefaultMinTicks, Source: source}
}

// Aggregate turns ticks for one symbol into candles, oldest first.
// Ticks are sorted by timestamp (stable) before bucketing, so equal
// timestamps keep feed order.
func (a *Aggregator) Aggregate(symbol string, ticks []model.PriceTick) (Result, error) {
	if !a.Timeframe.Valid() {
		return Result{}, fmt.Errorf("agg: unsupported timeframe %q", a.Timeframe)
	}
	res := Result{Symbol: symbol, Ticks: len(ticks)}

	minTicks := a.MinTicks
	if minTicks <= 0 {
		minTicks = DefaultMinTicks
	}
	if len(ticks) < minTicks {
		res.Skipped = true
		return res, nil
	}

	sorted := make([]model.PriceTick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var (
		cur     model.Candle
		started bool
	)
	for _, tick := range sorted {
		if tick.Symbol != symbol {
			return Result{}, fmt.Errorf("agg: tick for %q in %q batch", tick.Symbol, symbol)
		}
		bucket := a.Timeframe.Align(tick.Timestamp)

		if started && bucket.Equal(cur.BucketStart) {
			// Same bucket: update HLC
			if tick.Price.GreaterThan(cur.High) {
				cur.High = tick.Price
			}
			if tick.Price.LessThan(cur.Low) {
				cur.Low = tick.Price
			}
			cur.Close = tick.Price
			continue
		}

		// New bucket: finalize the previous candle first
		if started {
			res.Candles = append(res.Candles, cur)
		}
		cur = model.Candle{
			Symbol:      symbol,
			Timeframe:   a.Timeframe,
			BucketStart: bucket,
			Open:        tick.Price,
			High:        tick.Price,
			Low:         tick.Price,
			Close:       tick.Price,
			Source:      a.Source,
		}
		started = true
	}
	if started {
		res.Candles = append(res.Candles, cur)
	}
	return res, nil
}
