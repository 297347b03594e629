package indicator

// neutralRSI fills positions without enough history.
const neutralRSI = 50.0

// maxRS stands in for gain/loss when the window has no losses.
const maxRS = 1000.0

// RSI calculates the Relative Strength Index from simple (not Wilder-smoothed)
// averages of the trailing period gains and losses.
//
// Series shorter than period+1 are all 50. Otherwise the first period entries
// are 50 and every later value lies in [0, 100].
func RSI(values []float64, period int) []float64 {
	n := len(values)
	out := make([]float64, n)
	for i := range out {
		out[i] = neutralRSI
	}
	if period < 1 || n < period+1 {
		return out
	}

	gains, losses, _ := changes(values)
	for i := period; i < n; i++ {
		avgGain := trailingMean(gains, i, period)
		avgLoss := trailingMean(losses, i, period)

		rs := maxRS
		if avgLoss > 0 {
			rs = avgGain / avgLoss
		}
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out
}
