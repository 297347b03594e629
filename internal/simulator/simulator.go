// Package simulator walks signals forward over close prices to decide whether
// the stop-loss or the first take-profit is touched first.
//
// Only closes are known, so intrabar order cannot be recovered. When one close
// satisfies both levels the stop wins.
package simulator

import (
	"math"

	"forex-backtest/internal/model"
)

// WinMultiple is the reward/risk of the first take-profit.
const WinMultiple = 1.5

// Simulate resolves sig against closes, the full series the signal was generated
// on. Scanning starts one bar after the entry fill.
func Simulate(sig model.Signal, closes []float64) model.TradeOutcome {
	out := model.TradeOutcome{
		Signal:     sig,
		Outcome:    model.Unresolved,
		RiskAmount: math.Abs(sig.EntryPrice - sig.StopLoss),
	}
	if len(sig.TakeProfits) == 0 {
		return out
	}
	target := sig.TakeProfits[0]

	for i := sig.EntryIndex + 1; i < len(closes); i++ {
		if i < 0 {
			continue
		}
		c := closes[i]

		var stopHit, targetHit bool
		if sig.Direction == model.Sell {
			stopHit, targetHit = c >= sig.StopLoss, c <= target
		} else {
			stopHit, targetHit = c <= sig.StopLoss, c >= target
		}

		// stop is checked before target
		switch {
		case stopHit:
			out.Outcome, out.RewardMultiple = model.Loss, -1
		case targetHit:
			out.Outcome, out.RewardMultiple = model.Win, WinMultiple
		default:
			continue
		}
		exit := i
		out.ExitIndex = &exit
		return out
	}
	return out
}

// SimulateAll resolves every signal against the same series.
func SimulateAll(signals []model.Signal, closes []float64) []model.TradeOutcome {
	outcomes := make([]model.TradeOutcome, len(signals))
	for i, s := range signals {
		outcomes[i] = Simulate(s, closes)
	}
	return outcomes
}
