// Package strategy generates trend + oscillator confluence signals from an
// indicator-annotated close series.
//
// A BUY fires when RSI is oversold inside an uptrend (close > EMA50 > EMA200);
// a SELL when RSI is overbought inside a downtrend. Fills are assumed at the
// next bar's close.
package strategy

import (
	"fmt"
	"math"

	"forex-backtest/internal/indicator"
	"forex-backtest/internal/model"
)

const (
	// WarmupBars is the first index scanned; EMA200 is meaningless before it.
	WarmupBars = 200
	// ForwardBars is how many bars must follow a signal bar (entry + one to simulate).
	ForwardBars = 2

	riskPct    = 0.015
	minATRMult = 0.5
	maxATRMult = 3.0
)

// TakeProfitMultiples are the reward/risk ratios of the three targets.
// Only the first decides trade outcomes; the others are recorded for reference.
var TakeProfitMultiples = []float64{1.5, 2, 3}

// Params holds the tunable thresholds of the rule.
type Params struct {
	RSIBuyThreshold  float64 `json:"rsi_buy_threshold"`
	RSISellThreshold float64 `json:"rsi_sell_threshold"`
}

// DefaultParams returns the classic 30/70 oversold/overbought levels.
func DefaultParams() Params {
	return Params{RSIBuyThreshold: 30, RSISellThreshold: 70}
}

// Validate checks both thresholds are RSI values.
func (p Params) Validate() error {
	for name, v := range map[string]float64{"rsi_buy_threshold": p.RSIBuyThreshold, "rsi_sell_threshold": p.RSISellThreshold} {
		if math.IsNaN(v) || v < 0 || v > 100 {
			return fmt.Errorf("%s must be within [0,100], got %v", name, v)
		}
	}
	return nil
}

// Map flattens the parameters for result records.
func (p Params) Map() map[string]float64 {
	return map[string]float64{
		"rsi_buy_threshold":  p.RSIBuyThreshold,
		"rsi_sell_threshold": p.RSISellThreshold,
	}
}

// ParamsFromMap overlays m on the defaults. Keys may be snake_case or
// camelCase; an unknown key is an error.
func ParamsFromMap(m map[string]float64) (Params, error) {
	p := DefaultParams()
	for k, v := range m {
		switch k {
		case "rsi_buy_threshold", "rsiBuyThreshold":
			p.RSIBuyThreshold = v
		case "rsi_sell_threshold", "rsiSellThreshold":
			p.RSISellThreshold = v
		default:
			return p, fmt.Errorf("unknown parameter %q", k)
		}
	}
	return p, p.Validate()
}

// Generate scans bars WarmupBars..len-3 and returns every signal, oldest first.
// Indicator slices that are not aligned with closes produce no signals.
func Generate(symbol string, closes []float64, ind indicator.Series, p Params) []model.Signal {
	n := len(closes)
	if ind.Len() != n {
		return nil
	}

	var signals []model.Signal
	for i := WarmupBars; i <= n-1-ForwardBars; i++ {
		c, fast, slow, rsi := closes[i], ind.EMA50[i], ind.EMA200[i], ind.RSI14[i]

		trendUp := c > fast && fast > slow
		trendDown := c < fast && fast < slow

		var dir model.Direction
		switch {
		case rsi < p.RSIBuyThreshold && trendUp:
			dir = model.Buy
		case rsi > p.RSISellThreshold && trendDown:
			dir = model.Sell
		default:
			continue
		}

		if sig, ok := newSignal(symbol, dir, i, closes[i+1], ind.ATR14[i]); ok {
			signals = append(signals, sig)
		}
	}
	return signals
}

// newSignal prices a signal generated at bar i and filled at entry.
// A non-positive risk distance (flat market, zero ATR) yields no signal.
func newSignal(symbol string, dir model.Direction, i int, entry, atr float64) (model.Signal, bool) {
	risk := RiskDistance(entry, atr)
	if !(risk > 0) {
		return model.Signal{}, false
	}

	sign := 1.0
	if dir == model.Sell {
		sign = -1.0
	}
	tps := make([]float64, len(TakeProfitMultiples))
	for k, m := range TakeProfitMultiples {
		tps[k] = entry + sign*m*risk
	}
	return model.Signal{
		Symbol:      symbol,
		Direction:   dir,
		EntryIndex:  i + 1,
		EntryPrice:  entry,
		StopLoss:    entry - sign*risk,
		TakeProfits: tps,
		GeneratedAt: i,
	}, true
}

// RiskDistance is entry*1.5% bounded to [0.5*atr, 3*atr].
func RiskDistance(entry, atr float64) float64 {
	r := entry * riskPct
	lo, hi := minATRMult*atr, maxATRMult*atr
	if r < lo {
		r = lo
	}
	if r > hi {
		r = hi
	}
	return r
}
