// Package indicator provides technical indicator calculations over close-price series.
//
// Every function returns a slice aligned index-for-index with its input. Positions
// before enough history exists hold a fixed placeholder (seed, neutral 50 or zero)
// instead of being omitted, and no function panics on empty or short input.
package indicator

import "gonum.org/v1/gonum/floats"

const (
	FastEMAPeriod = 50
	SlowEMAPeriod = 200
	RSIPeriod     = 14
	ATRPeriod     = 14
)

// Series holds the indicators the signal generator consumes, each the same
// length as the close series it was computed from.
type Series struct {
	EMA50  []float64 `json:"ema50"`
	EMA200 []float64 `json:"ema200"`
	RSI14  []float64 `json:"rsi14"`
	ATR14  []float64 `json:"atr14"`
}

// Compute runs every indicator once over closes.
func Compute(closes []float64) Series {
	return Series{
		EMA50:  EMA(closes, FastEMAPeriod),
		EMA200: EMA(closes, SlowEMAPeriod),
		RSI14:  RSI(closes, RSIPeriod),
		ATR14:  ATRApprox(closes, ATRPeriod),
	}
}

// Len returns the common length, or -1 if the slices disagree.
func (s Series) Len() int {
	n := len(s.EMA50)
	if len(s.EMA200) != n || len(s.RSI14) != n || len(s.ATR14) != n {
		return -1
	}
	return n
}

// trailingMean averages xs[end-period+1 : end+1].
// Summing the window directly keeps an all-zero window exactly zero.
func trailingMean(xs []float64, end, period int) float64 {
	return floats.Sum(xs[end-period+1:end+1]) / float64(period)
}

// changes splits close-to-close differences into gains and losses.
// Index 0 has no predecessor and is left at zero.
func changes(values []float64) (gains, losses, abs []float64) {
	n := len(values)
	gains = make([]float64, n)
	losses = make([]float64, n)
	abs = make([]float64, n)
	for i := 1; i < n; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gains[i] = d
			abs[i] = d
		} else {
			losses[i] = -d
			abs[i] = -d
		}
	}
	return gains, losses, abs
}
