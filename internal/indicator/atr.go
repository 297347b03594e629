package indicator

// ATRApprox approximates Average True Range from close-to-close moves, since
// only closes are available: the simple mean of the trailing period absolute
// differences. Series shorter than period+2 are all zero, as are the first
// period entries of longer ones.
func ATRApprox(values []float64, period int) []float64 {
	n := len(values)
	out := make([]float64, n)
	if period < 1 || n < period+2 {
		return out
	}

	_, _, abs := changes(values)
	for i := period; i < n; i++ {
		out[i] = trailingMean(abs, i, period)
	}
	return out
}
