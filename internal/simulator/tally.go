package simulator

import (
	"math"

	"forex-backtest/internal/model"
)

// Tally accumulates resolved trade outcomes. Unresolved trades are ignored.
// Tallies combine by summation, so merge order never changes the totals.
type Tally struct {
	Total     int
	Wins      int
	Losses    int
	GrossWin  float64
	GrossLoss float64
}

// Add records one outcome.
func (t *Tally) Add(o model.TradeOutcome) {
	switch o.Outcome {
	case model.Win:
		t.Total++
		t.Wins++
		t.GrossWin += WinMultiple * o.RiskAmount
	case model.Loss:
		t.Total++
		t.Losses++
		t.GrossLoss += o.RiskAmount
	}
}

// AddAll records every outcome.
func (t *Tally) AddAll(outcomes []model.TradeOutcome) {
	for _, o := range outcomes {
		t.Add(o)
	}
}

// Merge folds other into t.
func (t *Tally) Merge(other Tally) {
	t.Total += other.Total
	t.Wins += other.Wins
	t.Losses += other.Losses
	t.GrossWin += other.GrossWin
	t.GrossLoss += other.GrossLoss
}

// WinRate is wins/total as a percentage, 0 with no trades.
func (t Tally) WinRate() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Wins) / float64(t.Total) * 100
}

// ProfitFactor is grossWin/grossLoss. Without losses it is +Inf when
// there are wins and 0 otherwise.
func (t Tally) ProfitFactor() float64 {
	if t.GrossLoss > 0 {
		return t.GrossWin / t.GrossLoss
	}
	if t.Wins > 0 {
		return math.Inf(1)
	}
	return 0
}
