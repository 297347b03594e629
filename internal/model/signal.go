package model

// Direction is the side of a trade signal.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Signal is a directional trade idea produced at bar GeneratedAt.
// The fill is assumed at the next bar's close (EntryIndex = GeneratedAt+1).
type Signal struct {
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	EntryIndex  int       `json:"entry_index"`
	EntryPrice  float64   `json:"entry_price"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits"` // ascending distance from entry
	GeneratedAt int       `json:"generated_at"`
}

// Outcome classifies a simulated trade.
type Outcome string

const (
	Win        Outcome = "WIN"
	Loss       Outcome = "LOSS"
	Unresolved Outcome = "UNRESOLVED"
)

// TradeOutcome is the result of walking a Signal forward over a price path.
// ExitIndex is nil for unresolved trades.
type TradeOutcome struct {
	Signal         Signal  `json:"signal"`
	Outcome        Outcome `json:"outcome"`
	ExitIndex      *int    `json:"exit_index"`
	RiskAmount     float64 `json:"risk_amount"`
	RewardMultiple float64 `json:"reward_multiple"`
}
