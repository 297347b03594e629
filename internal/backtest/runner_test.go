package backtest

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"forex-backtest/internal/metrics"
	"forex-backtest/internal/model"
	"forex-backtest/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	testStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

// ── fakes ──

type memSeries struct {
	bars  map[string][]model.Bar
	fail  map[string]error
	mu    sync.Mutex
	calls int
}

func (m *memSeries) ReadBars(_ context.Context, symbol string, _ model.Timeframe, _, _ time.Time) ([]model.Bar, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if err := m.fail[symbol]; err != nil {
		return nil, err
	}
	return m.bars[symbol], nil
}

type memResults struct {
	mu    sync.Mutex
	saved []model.BacktestResult
	ids   []string
	err   error
}

func (m *memResults) SaveResult(_ context.Context, runID string, r model.BacktestResult) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, r)
	m.ids = append(m.ids, runID)
	return nil
}

type memTrades struct {
	byRun map[string][]model.TradeOutcome
}

func (m *memTrades) SaveTrades(_ context.Context, runID string, trades []model.TradeOutcome) error {
	if m.byRun == nil {
		m.byRun = make(map[string][]model.TradeOutcome)
	}
	m.byRun[runID] = trades
	return nil
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishResult(context.Context, string, model.BacktestResult) error {
	p.calls++
	return errors.New("redis down")
}

// ── series builders ──

func toBars(closes []float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{Timestamp: testStart.Add(time.Duration(i) * 24 * time.Hour), Close: c}
	}
	return bars
}

// risingWithPullback is a 300-bar linear uptrend with ±0.05 noise and a
// 12-bar pullback that drives RSI oversold while price stays above EMA50.
func risingWithPullback() []float64 {
	closes := make([]float64, 300)
	p := 100.0
	for i := range closes {
		switch {
		case i == 0:
		case i <= 250:
			p++
		case i <= 262:
			p--
		default:
			p++
		}
		noise := 0.05
		if i%2 == 1 {
			noise = -0.05
		}
		closes[i] = p + noise
	}
	return closes
}

func randomSeries(seed int64, n int) []float64 {
	r := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	p := 1.2
	for i := range closes {
		p += (r.Float64()-0.5)*0.01 + 0.0003*math.Sin(float64(i)/30)
		closes[i] = p
	}
	return closes
}

func baseRequest(symbols ...string) Request {
	return Request{
		ConfigName: "test-config",
		Symbols:    symbols,
		Timeframe:  model.TF1D,
		Params:     strategy.DefaultParams(),
		Start:      testStart,
		End:        testEnd,
	}
}

// ── tests ──

func TestRun_RisingSeriesEndToEnd(t *testing.T) {
	series := &memSeries{bars: map[string][]model.Bar{"TESTUSD": toBars(risingWithPullback())}}
	results := &memResults{}
	trades := &memTrades{}
	runner := NewRunner(series, results, WithTradeLog(trades))

	rep, err := runner.Run(context.Background(), baseRequest("TESTUSD"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := rep.Result
	if res.TotalTrades < 1 || res.WinningTrades < 1 {
		t.Fatalf("expected at least one winning trade, got %+v", res)
	}
	// every pullback entry recovers to its first target
	if res.TotalTrades != 7 || res.WinningTrades != 7 || res.LosingTrades != 0 {
		t.Errorf("expected 7/7 wins, got total=%d wins=%d losses=%d", res.TotalTrades, res.WinningTrades, res.LosingTrades)
	}
	if res.WinRate != 100 || !math.IsInf(float64(res.ProfitFactor), 1) {
		t.Errorf("expected winRate=100 and pf=+Inf, got %v / %v", res.WinRate, res.ProfitFactor)
	}
	if rep.Tally.Total != res.TotalTrades || rep.Tally.GrossWin <= 0 || rep.Tally.GrossLoss != 0 {
		t.Errorf("report tally does not back the result: %+v", rep.Tally)
	}
	for _, tr := range rep.Trades {
		if tr.Signal.Direction != model.Buy {
			t.Errorf("expected only BUY trades, got %s at %d", tr.Signal.Direction, tr.Signal.GeneratedAt)
		}
	}

	if len(results.saved) != 1 {
		t.Fatalf("expected exactly one persisted result, got %d", len(results.saved))
	}
	if results.ids[0] != rep.RunID || len(trades.byRun[rep.RunID]) != len(rep.Trades) {
		t.Error("trade log not stored under the run id")
	}
	saved := results.saved[0]
	if saved.ConfigName != "test-config" || saved.Timeframe != model.TF1D || saved.Parameters["rsi_buy_threshold"] != 30 {
		t.Errorf("unexpected persisted record %+v", saved)
	}
}

func TestRun_SkipsInsufficientHistory(t *testing.T) {
	series := &memSeries{bars: map[string][]model.Bar{
		"TESTUSD": toBars(risingWithPullback()),
		"THINUSD": toBars(randomSeries(1, 50)),
	}}
	results := &memResults{}

	rep, err := NewRunner(series, results).Run(context.Background(), baseRequest("TESTUSD", "THINUSD"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0] != "THINUSD" {
		t.Errorf("expected THINUSD skipped, got %v", rep.Skipped)
	}
	if len(rep.Processed) != 1 || rep.Result.TotalTrades != 7 {
		t.Errorf("thin symbol leaked into aggregates: %+v", rep.Result)
	}
}

func TestRun_OnlyThinSymbolsYieldsEmptyResult(t *testing.T) {
	series := &memSeries{bars: map[string][]model.Bar{"A": toBars(randomSeries(2, 259))}}
	results := &memResults{}

	rep, err := NewRunner(series, results).Run(context.Background(), baseRequest("A", "MISSING"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := rep.Result
	if r.TotalTrades != 0 || r.WinRate != 0 || r.ProfitFactor != 0 {
		t.Errorf("expected zeroed metrics, got %+v", r)
	}
	if len(results.saved) != 1 {
		t.Errorf("empty runs are still persisted once, got %d", len(results.saved))
	}
}

func TestRun_UpstreamFailureIsFatal(t *testing.T) {
	series := &memSeries{
		bars: map[string][]model.Bar{"TESTUSD": toBars(risingWithPullback())},
		fail: map[string]error{"BADUSD": errors.New("timeout")},
	}
	results := &memResults{}

	_, err := NewRunner(series, results).Run(context.Background(), baseRequest("TESTUSD", "BADUSD"))
	if !errors.Is(err, ErrUpstreamFetch) {
		t.Fatalf("expected ErrUpstreamFetch, got %v", err)
	}
	if len(results.saved) != 0 {
		t.Error("no result may be persisted after an upstream failure")
	}
}

func TestRun_PersistenceFailure(t *testing.T) {
	series := &memSeries{bars: map[string][]model.Bar{"TESTUSD": toBars(risingWithPullback())}}
	results := &memResults{err: errors.New("disk full")}

	_, err := NewRunner(series, results).Run(context.Background(), baseRequest("TESTUSD"))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestRun_PublishFailureIsNotFatal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	series := &memSeries{bars: map[string][]model.Bar{"TESTUSD": toBars(risingWithPullback())}}
	pub := &failingPublisher{}

	_, err := NewRunner(series, &memResults{}, WithPublisher(pub), WithMetrics(m)).Run(context.Background(), baseRequest("TESTUSD"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if pub.calls != 1 {
		t.Errorf("expected one publish attempt, got %d", pub.calls)
	}
	if got := testutil.ToFloat64(m.PublishFailures); got != 1 {
		t.Errorf("expected publish failure metric=1, got %v", got)
	}
	if got := testutil.ToFloat64(m.TradesTotal.WithLabelValues("WIN")); got != 7 {
		t.Errorf("expected 7 WIN trades recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected runs ok=1, got %v", got)
	}
}

func TestRun_InvalidParamsRejectedBeforeFetch(t *testing.T) {
	series := &memSeries{}
	runner := NewRunner(series, &memResults{})

	bad := []Request{
		baseRequest(),
		baseRequest(" ", ""),
		func() Request { r := baseRequest("X"); r.Timeframe = "3M"; return r }(),
		func() Request { r := baseRequest("X"); r.End = r.Start; return r }(),
		func() Request { r := baseRequest("X"); r.Start = time.Time{}; return r }(),
		func() Request { r := baseRequest("X"); r.Params.RSIBuyThreshold = 150; return r }(),
	}
	for i, req := range bad {
		if _, err := runner.Run(context.Background(), req); !errors.Is(err, ErrInvalidParams) || !IsClientError(err) {
			t.Errorf("case %d: expected ErrInvalidParams, got %v", i, err)
		}
	}
	if series.calls != 0 {
		t.Errorf("invalid requests must not fetch data, got %d calls", series.calls)
	}
}

func TestRun_AggregateConsistencyAndWorkerIndependence(t *testing.T) {
	bars := map[string][]model.Bar{}
	var symbols []string
	for i := 0; i < 12; i++ {
		sym := "SYM" + string(rune('A'+i))
		symbols = append(symbols, sym)
		bars[sym] = toBars(randomSeries(int64(100+i), 700))
	}
	req := baseRequest(symbols...)
	req.Params = strategy.Params{RSIBuyThreshold: 40, RSISellThreshold: 60}

	var prev *model.BacktestResult
	for _, workers := range []int{1, 3, 12} {
		rep, err := NewRunner(&memSeries{bars: bars}, &memResults{}, WithWorkers(workers)).Run(context.Background(), req)
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		r := rep.Result
		if r.WinningTrades+r.LosingTrades != r.TotalTrades {
			t.Fatalf("workers=%d: wins+losses != total (%+v)", workers, r)
		}
		if prev != nil && (prev.TotalTrades != r.TotalTrades || prev.WinningTrades != r.WinningTrades ||
			math.Abs(float64(prev.ProfitFactor-r.ProfitFactor)) > 1e-9) {
			t.Fatalf("workers=%d changed the aggregate: %+v vs %+v", workers, r, *prev)
		}
		prev = &r
	}
}

func TestRun_CanceledContext(t *testing.T) {
	series := &memSeries{bars: map[string][]model.Bar{"TESTUSD": toBars(risingWithPullback())}}
	results := &memResults{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewRunner(series, results).Run(ctx, baseRequest("TESTUSD")); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if len(results.saved) != 0 {
		t.Error("canceled runs must not persist")
	}
}

// blockingSeries never answers until the caller gives up.
type blockingSeries struct{}

func (blockingSeries) ReadBars(ctx context.Context, _ string, _ model.Timeframe, _, _ time.Time) ([]model.Bar, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_DeadlineDuringFetchIsNotUpstreamError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	results := &memResults{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewRunner(blockingSeries{}, results, WithMetrics(m)).Run(ctx, baseRequest("EURUSD", "GBPUSD"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if errors.Is(err, ErrUpstreamFetch) {
		t.Errorf("timeout reported as upstream failure: %v", err)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("canceled")); got != 1 {
		t.Errorf("expected runs canceled=1, got %v", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("upstream_error")); got != 0 {
		t.Errorf("expected runs upstream_error=0, got %v", got)
	}
	if len(results.saved) != 0 {
		t.Error("timed out runs must not persist")
	}
}

func TestRequest_NormalizeDeduplicates(t *testing.T) {
	req := Request{Symbols: []string{"eurusd", "EURUSD ", "gbpusd", ""}}.Normalize()
	if len(req.Symbols) != 2 || req.Symbols[0] != "EURUSD" || req.Symbols[1] != "GBPUSD" {
		t.Errorf("unexpected symbols %v", req.Symbols)
	}
	if req.ConfigName != DefaultConfigName {
		t.Errorf("expected default config name, got %q", req.ConfigName)
	}
}
