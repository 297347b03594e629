package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"forex-backtest/internal/backtest"
	"forex-backtest/internal/model"
	sqlitestore "forex-backtest/internal/store/sqlite"

	"github.com/pquerna/otp/totp"
)

// stubRunner records the last request and answers with rep or err.
type stubRunner struct {
	got *backtest.Request
	rep *backtest.Report
	err error
}

func (s *stubRunner) Run(_ context.Context, req backtest.Request) (*backtest.Report, error) {
	s.got = &req
	if s.err != nil {
		return nil, s.err
	}
	return s.rep, nil
}

type stubStore struct {
	results map[string]sqlitestore.StoredResult
}

func (s stubStore) ReadResult(_ context.Context, id string) (*sqlitestore.StoredResult, error) {
	r, ok := s.results[id]
	if !ok {
		return nil, sqlitestore.ErrNotFound
	}
	return &r, nil
}

func (s stubStore) ListResults(_ context.Context, cfg string, limit int) ([]sqlitestore.StoredResult, error) {
	var out []sqlitestore.StoredResult
	for _, r := range s.results {
		if cfg == "" || r.Result.ConfigName == cfg {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type stubLatest map[string]model.BacktestResult

func (s stubLatest) LatestResult(_ context.Context, cfg string) (*model.BacktestResult, error) {
	r, ok := s[cfg]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

const validBody = `{
	"symbols": ["eurusd", "GBPUSD", "EURUSD"],
	"timeframe": "4h",
	"parameters": {"rsiBuyThreshold": 35},
	"configName": "swing",
	"testStart": "2024-01-01",
	"testEnd": "2024-06-01T00:00:00Z"
}`

func okReport() *backtest.Report {
	return &backtest.Report{
		RunID: "run-1",
		Result: model.BacktestResult{
			ConfigName: "swing", Timeframe: model.TF4H,
			TotalTrades: 3, WinningTrades: 3, WinRate: 100,
			ProfitFactor: model.Ratio(math.Inf(1)),
		},
		Processed: []string{"EURUSD"},
		Skipped:   []string{"GBPUSD"},
	}
}

func post(t *testing.T, h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/backtests", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRunBacktest_Success(t *testing.T) {
	runner := &stubRunner{rep: okReport()}
	rec := post(t, NewRouter(Deps{Runner: runner}), validBody, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp BacktestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" || resp.Timeframe != "4H" || resp.RunID != "run-1" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Symbols) != 2 || resp.Symbols[0] != "EURUSD" || resp.Symbols[1] != "GBPUSD" {
		t.Errorf("symbols = %v, want normalized [EURUSD GBPUSD]", resp.Symbols)
	}
	if resp.Metrics.TotalTrades != 3 || resp.Metrics.Wins != 3 || !math.IsInf(float64(resp.Metrics.ProfitFactor), 1) {
		t.Errorf("metrics = %+v", resp.Metrics)
	}
	if !strings.Contains(rec.Body.String(), `"profitFactor":"Infinity"`) {
		t.Errorf("body does not encode infinite profit factor: %s", rec.Body)
	}

	got := runner.got
	if got == nil {
		t.Fatal("runner not called")
	}
	if got.Params.RSIBuyThreshold != 35 || got.Params.RSISellThreshold != 70 {
		t.Errorf("params = %+v", got.Params)
	}
	if !got.Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || got.ConfigName != "swing" {
		t.Errorf("request = %+v", got)
	}
}

func TestRunBacktest_BadRequests(t *testing.T) {
	cases := map[string]string{
		"malformed json":    `{"symbols": [`,
		"unknown field":     `{"symbols":["EURUSD"],"timeframe":"1H","testStart":"2024-01-01","testEnd":"2024-02-01","extra":1}`,
		"bad timeframe":     `{"symbols":["EURUSD"],"timeframe":"15m","testStart":"2024-01-01","testEnd":"2024-02-01"}`,
		"bad date":          `{"symbols":["EURUSD"],"timeframe":"1H","testStart":"yesterday","testEnd":"2024-02-01"}`,
		"missing end":       `{"symbols":["EURUSD"],"timeframe":"1H","testStart":"2024-01-01"}`,
		"unknown parameter": `{"symbols":["EURUSD"],"timeframe":"1H","parameters":{"ema":9},"testStart":"2024-01-01","testEnd":"2024-02-01"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			runner := &stubRunner{rep: okReport()}
			rec := post(t, NewRouter(Deps{Runner: runner}), body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body)
			}
			var e ErrorResponse
			if json.Unmarshal(rec.Body.Bytes(), &e) != nil || e.Error == "" {
				t.Errorf("expected error payload, got %s", rec.Body)
			}
			if runner.got != nil {
				t.Error("runner called for a bad request")
			}
		})
	}
}

func TestRunBacktest_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty symbol set", backtest.ErrInvalidParams), http.StatusBadRequest},
		{fmt.Errorf("%w: EURUSD: timeout", backtest.ErrUpstreamFetch), http.StatusBadGateway},
		{fmt.Errorf("%w: disk full", backtest.ErrPersistence), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		rec := post(t, NewRouter(Deps{Runner: &stubRunner{err: tt.err}}), validBody, nil)
		if rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
		var e ErrorResponse
		json.Unmarshal(rec.Body.Bytes(), &e)
		if e.Error != tt.err.Error() {
			t.Errorf("error payload = %q, want %q", e.Error, tt.err.Error())
		}
	}
}

// hangingSeries blocks every fetch until the request context ends.
type hangingSeries struct{}

func (hangingSeries) ReadBars(ctx context.Context, _ string, _ model.Timeframe, _, _ time.Time) ([]model.Bar, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type discardResults struct{}

func (discardResults) SaveResult(context.Context, string, model.BacktestResult) error { return nil }

func TestRunBacktest_TimeoutDuringFetch(t *testing.T) {
	runner := backtest.NewRunner(hangingSeries{}, discardResults{})
	h := NewRouter(Deps{Runner: runner, RunTimeout: 20 * time.Millisecond})

	rec := post(t, h, validBody, nil)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504, body = %s", rec.Code, rec.Body)
	}
}

func TestRunBacktest_TOTPGuard(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	h := NewRouter(Deps{Runner: &stubRunner{rep: okReport()}, TOTPSecret: secret})

	if rec := post(t, h, validBody, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no code: status = %d, want 401", rec.Code)
	}
	if rec := post(t, h, validBody, map[string]string{OTPHeader: "000000x"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad code: status = %d, want 401", rec.Code)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if rec := post(t, h, validBody, map[string]string{OTPHeader: code}); rec.Code != http.StatusOK {
		t.Errorf("valid code: status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
}

func TestHealth(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC) // Saturday
	h := NewRouter(Deps{Runner: &stubRunner{}, Now: func() time.Time { return now }})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || !strings.HasPrefix(body["market"], "FX closed") {
		t.Errorf("body = %v", body)
	}
}

func TestResultsEndpoints(t *testing.T) {
	store := stubStore{results: map[string]sqlitestore.StoredResult{
		"run-1": {RunID: "run-1", Result: model.BacktestResult{ConfigName: "swing", TotalTrades: 4}},
	}}
	latest := stubLatest{"swing": {ConfigName: "swing", TotalTrades: 4}}
	h := NewRouter(Deps{Runner: &stubRunner{}, Results: store, Latest: latest})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/api/v1/backtests/run-1"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"run_id":"run-1"`) {
		t.Errorf("get run: %d %s", rec.Code, rec.Body)
	}
	if rec := get("/api/v1/backtests/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("missing run: status = %d, want 404", rec.Code)
	}
	if rec := get("/api/v1/backtests?config=swing"); rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "[") {
		t.Errorf("list: %d %s", rec.Code, rec.Body)
	}
	if rec := get("/api/v1/backtests?limit=0"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}
	if rec := get("/api/v1/backtests/latest?config=swing"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_trades":4`) {
		t.Errorf("latest: %d %s", rec.Code, rec.Body)
	}
	if rec := get("/api/v1/backtests/latest?config=other"); rec.Code != http.StatusNotFound {
		t.Errorf("latest for unknown config: status = %d, want 404", rec.Code)
	}
}

func TestStatusFor_Default(t *testing.T) {
	if got := statusFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("statusFor(unknown) = %d, want 500", got)
	}
}
