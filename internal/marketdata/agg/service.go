package agg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"forex-backtest/internal/model"
)

// Report summarises one aggregation pass over several symbols.
type Report struct {
	Processed []string
	Skipped   []string
	Candles   int
}

// Service reads ticks, aggregates them and upserts the candles.
type Service struct {
	agg     *Aggregator
	ticks   model.TickReader
	candles model.CandleWriter
	log     *slog.Logger

	// OnSkipped is called for every symbol below the minimum tick count (optional).
	OnSkipped func(symbol string)
	// Publish announces freshly upserted candles (optional). Failures are logged.
	Publish func(ctx context.Context, candles []model.Candle) error
}

// NewService wires an Aggregator to its tick source and candle sink.
func NewService(a *Aggregator, ticks model.TickReader, candles model.CandleWriter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{agg: a, ticks: ticks, candles: candles, log: logger}
}

// Run aggregates every symbol over [from, to). A read or write failure stops
// the pass; symbols with too little data are skipped and reported.
func (s *Service) Run(ctx context.Context, symbols []string, from, to time.Time) (Report, error) {
	var rep Report
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		ticks, err := s.ticks.ReadTicks(ctx, sym, from, to)
		if err != nil {
			return rep, fmt.Errorf("read ticks %s: %w", sym, err)
		}
		res, err := s.agg.Aggregate(sym, ticks)
		if err != nil {
			return rep, err
		}
		if res.Skipped {
			s.log.Info("aggregation skipped: insufficient ticks",
				slog.String("symbol", sym), slog.Int("ticks", res.Ticks), slog.Int("min_ticks", s.agg.MinTicks))
			rep.Skipped = append(rep.Skipped, sym)
			if s.OnSkipped != nil {
				s.OnSkipped(sym)
			}
			continue
		}

		if err := s.candles.UpsertCandles(ctx, res.Candles); err != nil {
			return rep, fmt.Errorf("upsert candles %s: %w", sym, err)
		}
		if s.Publish != nil {
			if err := s.Publish(ctx, res.Candles); err != nil {
				s.log.Warn("candles not published", slog.String("symbol", sym), slog.String("error", err.Error()))
			}
		}
		s.log.Info("aggregated",
			slog.String("symbol", sym), slog.String("timeframe", string(s.agg.Timeframe)),
			slog.Int("ticks", res.Ticks), slog.Int("candles", len(res.Candles)))
		rep.Processed = append(rep.Processed, sym)
		rep.Candles += len(res.Candles)
	}
	return rep, nil
}
