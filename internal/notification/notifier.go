// Package notification delivers alerts about finished backtests to external
// channels (logs, webhooks).
package notification

import (
	"context"
	"fmt"
	"log"
	"math"

	"forex-backtest/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	RunID   string     `json:"run_id,omitempty"`

	// Result is attached for run alerts so webhook consumers need not parse Message.
	Result *model.BacktestResult `json:"result,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// ResultAlerts turns finished runs into alerts. It satisfies
// model.ResultPublisher so it can sit next to the Redis publisher.
type ResultAlerts struct {
	n Notifier
}

// NewResultAlerts wraps n.
func NewResultAlerts(n Notifier) *ResultAlerts {
	return &ResultAlerts{n: n}
}

// PublishResult sends one alert describing r. Runs without trades are
// reported as warnings.
func (a *ResultAlerts) PublishResult(ctx context.Context, runID string, r model.BacktestResult) error {
	return a.n.Send(ctx, ResultAlert(runID, r))
}

// ResultAlert formats r as an alert.
func ResultAlert(runID string, r model.BacktestResult) Alert {
	level := AlertInfo
	if r.TotalTrades == 0 {
		level = AlertWarning
	}
	pf := fmt.Sprintf("%.2f", float64(r.ProfitFactor))
	if math.IsInf(float64(r.ProfitFactor), 1) {
		pf = "inf"
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("backtest %s (%s) finished", r.ConfigName, r.Timeframe),
		Message: fmt.Sprintf("%d trades, %d wins, %d losses, win rate %.1f%%, profit factor %s",
			r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate, pf),
		RunID:  runID,
		Result: &r,
	}
}
