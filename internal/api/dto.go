package api

import (
	"fmt"
	"strings"
	"time"

	"forex-backtest/internal/backtest"
	"forex-backtest/internal/model"
	"forex-backtest/internal/strategy"
)

// BacktestRequest is the JSON body of POST /api/v1/backtests.
type BacktestRequest struct {
	Symbols    []string           `json:"symbols"`
	Timeframe  string             `json:"timeframe"`
	Parameters map[string]float64 `json:"parameters"`
	ConfigName string             `json:"configName"`
	TestStart  string             `json:"testStart"`
	TestEnd    string             `json:"testEnd"`
}

// Metrics is the aggregate statistics block of a response.
type Metrics struct {
	TotalTrades  int         `json:"totalTrades"`
	Wins         int         `json:"wins"`
	Losses       int         `json:"losses"`
	WinRate      float64     `json:"winRate"`
	ProfitFactor model.Ratio `json:"profitFactor"`
}

// BacktestResponse is returned by a successful run.
type BacktestResponse struct {
	Status    string   `json:"status"`
	RunID     string   `json:"runId"`
	Timeframe string   `json:"timeframe"`
	Symbols   []string `json:"symbols"`
	Processed []string `json:"processed"`
	Skipped   []string `json:"skipped"`
	Metrics   Metrics  `json:"metrics"`
}

// ErrorResponse is the payload of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// dateLayouts are tried in order for testStart/testEnd.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", backtest.ErrInvalidParams, field)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %q is not a date", backtest.ErrInvalidParams, field, s)
}

// ToRequest converts the wire form into a backtest.Request.
func (b BacktestRequest) ToRequest() (backtest.Request, error) {
	tf, err := model.ParseTimeframe(b.Timeframe)
	if err != nil {
		return backtest.Request{}, fmt.Errorf("%w: %v", backtest.ErrInvalidParams, err)
	}
	params, err := strategy.ParamsFromMap(b.Parameters)
	if err != nil {
		return backtest.Request{}, fmt.Errorf("%w: %v", backtest.ErrInvalidParams, err)
	}
	start, err := parseDate("testStart", b.TestStart)
	if err != nil {
		return backtest.Request{}, err
	}
	end, err := parseDate("testEnd", b.TestEnd)
	if err != nil {
		return backtest.Request{}, err
	}
	return backtest.Request{
		ConfigName: b.ConfigName,
		Symbols:    b.Symbols,
		Timeframe:  tf,
		Params:     params,
		Start:      start,
		End:        end,
	}, nil
}

func newBacktestResponse(rep *backtest.Report, symbols []string) BacktestResponse {
	r := rep.Result
	return BacktestResponse{
		Status:    "completed",
		RunID:     rep.RunID,
		Timeframe: string(r.Timeframe),
		Symbols:   symbols,
		Processed: nonNil(rep.Processed),
		Skipped:   nonNil(rep.Skipped),
		Metrics: Metrics{
			TotalTrades:  r.TotalTrades,
			Wins:         r.WinningTrades,
			Losses:       r.LosingTrades,
			WinRate:      r.WinRate,
			ProfitFactor: r.ProfitFactor,
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
