package model

import (
	"encoding/json"
	"math"
	"time"
)

// Ratio is a float64 that survives JSON round-trips when infinite.
// +Inf is encoded as the string "Infinity".
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(r), 1) {
		return []byte(`"Infinity"`), nil
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	if string(b) == `"Infinity"` {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// BacktestResult is the single immutable record produced by one backtest run.
type BacktestResult struct {
	ConfigName    string             `json:"config_name"`
	Parameters    map[string]float64 `json:"parameters"`
	Timeframe     Timeframe          `json:"timeframe"`
	PeriodStart   time.Time          `json:"period_start"`
	PeriodEnd     time.Time          `json:"period_end"`
	TotalTrades   int                `json:"total_trades"`
	WinningTrades int                `json:"winning_trades"`
	LosingTrades  int                `json:"losing_trades"`
	WinRate       float64            `json:"win_rate"` // 0-100
	ProfitFactor  Ratio              `json:"profit_factor"`
}

// JSON returns the JSON-encoded result (ignoring errors, the type always encodes).
func (r *BacktestResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
