package indicator

import "gonum.org/v1/gonum/floats"

// EMA calculates the Exponential Moving Average with k = 2/(period+1).
//
// The seed is the simple average of the first period values and sits at
// index period-1; the positions before it replicate the seed so the output
// stays aligned with values. A series shorter than period is padded with
// the mean of what is available.
func EMA(values []float64, period int) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if period < 1 {
		period = 1
	}

	seedLen := period
	if seedLen > n {
		seedLen = n
	}
	seed := floats.Sum(values[:seedLen]) / float64(seedLen)
	for i := 0; i < seedLen; i++ {
		out[i] = seed
	}

	k := 2.0 / float64(period+1)
	for i := seedLen; i < n; i++ {
		// EMA = (Price * k) + (EMA_prev * (1 - k))
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}
