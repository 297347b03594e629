// Package backtest runs the signal + simulation pipeline over a set of
// symbols and reduces the trades into one BacktestResult per invocation.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"forex-backtest/internal/indicator"
	"forex-backtest/internal/logger"
	"forex-backtest/internal/metrics"
	"forex-backtest/internal/model"
	"forex-backtest/internal/simulator"
	"forex-backtest/internal/strategy"

	"golang.org/x/sync/errgroup"
)

const (
	// MinBars is the shortest series worth simulating: EMA200 warm-up plus
	// room for forward simulation.
	MinBars = 260

	defaultWorkers = 4
)

// Report is everything a run produced. Only Result is persisted as the run record.
type Report struct {
	RunID     string
	Result    model.BacktestResult
	Trades    []model.TradeOutcome
	Processed []string
	Skipped   []string
	// Tally keeps the gross win/loss sums behind Result so callers can
	// combine several runs.
	Tally simulator.Tally
}

// Runner executes backtests. It is safe to call Run concurrently; runs share
// only the read-only series source and append-only sinks.
type Runner struct {
	series  model.SeriesReader
	results model.ResultWriter
	trades  model.TradeWriter
	publish []model.ResultPublisher
	metrics *metrics.Metrics
	log     *slog.Logger
	workers int
	minBars int
}

// Option configures a Runner.
type Option func(*Runner)

// WithTradeLog stores each run's simulated trades. Failures are logged, not returned.
func WithTradeLog(w model.TradeWriter) Option { return func(r *Runner) { r.trades = w } }

// WithPublisher adds a sink that announces finished runs. Publishers are
// called in the order added; failures are logged, not returned.
func WithPublisher(p model.ResultPublisher) Option {
	return func(r *Runner) { r.publish = append(r.publish, p) }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.log = l } }

// WithWorkers bounds how many symbols are simulated at once.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// NewRunner creates a Runner reading series from series and persisting to results.
func NewRunner(series model.SeriesReader, results model.ResultWriter, opts ...Option) *Runner {
	r := &Runner{
		series:  series,
		results: results,
		log:     slog.Default(),
		workers: defaultWorkers,
		minBars: MinBars,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// symbolRun is the per-symbol partial result merged after all workers finish.
type symbolRun struct {
	tally   simulator.Tally
	trades  []model.TradeOutcome
	skipped bool
}

// Run executes the backtest described by req.
//
// Symbols with fewer than MinBars bars are skipped. Any series fetch error
// aborts the whole run with ErrUpstreamFetch and nothing is persisted. The
// result record is written exactly once, after every symbol completed.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		r.countRun("invalid")
		return nil, err
	}

	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	log := r.log.With(logger.LogWithRun(ctx)...)
	log.Info("backtest started",
		slog.String("config", req.ConfigName),
		slog.String("timeframe", string(req.Timeframe)),
		slog.Int("symbols", len(req.Symbols)))

	runs := make([]symbolRun, len(req.Symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, sym := range req.Symbols {
		i, sym := i, sym
		g.Go(func() error {
			run, err := r.runSymbol(gctx, sym, req)
			if err != nil {
				return err
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			r.countRun("canceled")
			log.Warn("backtest canceled", slog.String("error", err.Error()))
			return nil, ctx.Err()
		}
		r.countRun("upstream_error")
		log.Error("backtest aborted", slog.String("error", err.Error()))
		return nil, err
	}
	// a caller timeout between the last fetch and the write still aborts
	if err := ctx.Err(); err != nil {
		r.countRun("canceled")
		return nil, err
	}

	rep := &Report{RunID: runID}
	var total simulator.Tally
	for i, run := range runs {
		if run.skipped {
			rep.Skipped = append(rep.Skipped, req.Symbols[i])
			continue
		}
		rep.Processed = append(rep.Processed, req.Symbols[i])
		total.Merge(run.tally)
		rep.Trades = append(rep.Trades, run.trades...)
	}
	rep.Tally = total
	rep.Result = buildResult(req, total)

	if err := r.results.SaveResult(ctx, runID, rep.Result); err != nil {
		r.countRun("persist_error")
		log.Error("backtest result not persisted", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if r.trades != nil {
		if err := r.trades.SaveTrades(ctx, runID, rep.Trades); err != nil {
			log.Warn("trade log not persisted", slog.String("error", err.Error()))
		}
	}
	for _, p := range r.publish {
		if err := p.PublishResult(ctx, runID, rep.Result); err != nil {
			log.Warn("result not published", slog.String("error", err.Error()))
			if r.metrics != nil {
				r.metrics.PublishFailures.Inc()
			}
		}
	}

	r.countRun("ok")
	r.observe(rep, time.Since(start))
	log.Info("backtest completed",
		slog.Int("processed", len(rep.Processed)),
		slog.Int("skipped", len(rep.Skipped)),
		slog.Int("total_trades", rep.Result.TotalTrades),
		slog.Float64("win_rate", rep.Result.WinRate),
		slog.Duration("elapsed", time.Since(start)))
	return rep, nil
}

// runSymbol fetches one symbol's series and simulates it.
func (r *Runner) runSymbol(ctx context.Context, sym string, req Request) (symbolRun, error) {
	fetchStart := time.Now()
	bars, err := r.series.ReadBars(ctx, sym, req.Timeframe, req.Start, req.End)
	if r.metrics != nil {
		r.metrics.SeriesFetchDur.Observe(time.Since(fetchStart).Seconds())
	}
	if err != nil {
		// the caller gave up; the store did not fail
		if ctxErr := ctx.Err(); ctxErr != nil {
			return symbolRun{}, ctxErr
		}
		return symbolRun{}, fmt.Errorf("%w: %s: %w", ErrUpstreamFetch, sym, err)
	}

	if len(bars) < r.minBars {
		r.log.With(logger.LogWithRun(ctx)...).Info("symbol skipped",
			slog.String("symbol", sym),
			slog.String("reason", ErrDataUnavailable.Error()),
			slog.Int("bars", len(bars)),
			slog.Int("min_bars", r.minBars))
		return symbolRun{skipped: true}, nil
	}

	tally, trades := SimulateSymbol(sym, model.Closes(bars), req.Params)
	return symbolRun{tally: tally, trades: trades}, nil
}

// SimulateSymbol computes indicators once over closes, generates signals
// and resolves each of them.
func SimulateSymbol(sym string, closes []float64, p strategy.Params) (simulator.Tally, []model.TradeOutcome) {
	ind := indicator.Compute(closes)
	signals := strategy.Generate(sym, closes, ind, p)
	trades := simulator.SimulateAll(signals, closes)

	var tally simulator.Tally
	tally.AddAll(trades)
	return tally, trades
}

func buildResult(req Request, t simulator.Tally) model.BacktestResult {
	return model.BacktestResult{
		ConfigName:    req.ConfigName,
		Parameters:    req.Params.Map(),
		Timeframe:     req.Timeframe,
		PeriodStart:   req.Start.UTC(),
		PeriodEnd:     req.End.UTC(),
		TotalTrades:   t.Total,
		WinningTrades: t.Wins,
		LosingTrades:  t.Losses,
		WinRate:       t.WinRate(),
		ProfitFactor:  model.Ratio(t.ProfitFactor()),
	}
}

func (r *Runner) countRun(status string) {
	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(status).Inc()
	}
}

func (r *Runner) observe(rep *Report, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.RunDuration.Observe(elapsed.Seconds())
	r.metrics.SymbolsProcessed.Add(float64(len(rep.Processed)))
	r.metrics.SymbolsSkipped.Add(float64(len(rep.Skipped)))
	for _, t := range rep.Trades {
		r.metrics.TradesTotal.WithLabelValues(string(t.Outcome)).Inc()
	}
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidParams)
}
