package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the backtest pipeline from concrete storage
// implementations (SQLite, Redis).

// SeriesReader returns the close-price series of a symbol at a timeframe,
// sorted ascending by timestamp, for bars in [start, end].
type SeriesReader interface {
	ReadBars(ctx context.Context, symbol string, tf Timeframe, start, end time.Time) ([]Bar, error)
}

// TickReader returns raw ticks of a symbol in [start, end), ascending.
type TickReader interface {
	ReadTicks(ctx context.Context, symbol string, start, end time.Time) ([]PriceTick, error)
}

// TickWriter appends raw ticks.
type TickWriter interface {
	WriteTicks(ctx context.Context, ticks []PriceTick) error
}

// CandleWriter upserts candles keyed by (symbol, timeframe, bucket start).
type CandleWriter interface {
	UpsertCandles(ctx context.Context, candles []Candle) error
}

// ResultWriter persists one BacktestResult per run.
type ResultWriter interface {
	SaveResult(ctx context.Context, runID string, r BacktestResult) error
}

// TradeWriter persists the simulated trade log of a run.
type TradeWriter interface {
	SaveTrades(ctx context.Context, runID string, trades []TradeOutcome) error
}

// ResultPublisher announces a finished run to downstream consumers.
type ResultPublisher interface {
	PublishResult(ctx context.Context, runID string, r BacktestResult) error
}
