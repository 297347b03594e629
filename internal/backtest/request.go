package backtest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"forex-backtest/internal/model"
	"forex-backtest/internal/strategy"
)

var (
	// ErrInvalidParams rejects a request before any computation starts.
	ErrInvalidParams = errors.New("invalid backtest parameters")
	// ErrUpstreamFetch means the historical data source failed; nothing was persisted.
	ErrUpstreamFetch = errors.New("historical data fetch failed")
	// ErrPersistence means the final result could not be written.
	ErrPersistence = errors.New("backtest result persistence failed")
	// ErrDataUnavailable marks a symbol with too little history. It is never
	// returned from Run; such symbols are skipped and counted.
	ErrDataUnavailable = errors.New("insufficient history")
)

// DefaultConfigName labels runs submitted without a name.
const DefaultConfigName = "default"

// Request describes one backtest invocation.
type Request struct {
	ConfigName string          `json:"config_name"`
	Symbols    []string        `json:"symbols"`
	Timeframe  model.Timeframe `json:"timeframe"`
	Params     strategy.Params `json:"parameters"`
	Start      time.Time       `json:"test_start"`
	End        time.Time       `json:"test_end"`
}

// Normalize trims and de-duplicates symbols (first occurrence wins) and
// fills in the default config name.
func (r Request) Normalize() Request {
	seen := make(map[string]bool, len(r.Symbols))
	symbols := make([]string, 0, len(r.Symbols))
	for _, s := range r.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	r.Symbols = symbols
	if strings.TrimSpace(r.ConfigName) == "" {
		r.ConfigName = DefaultConfigName
	}
	return r
}

// Validate returns an error wrapping ErrInvalidParams for a malformed request.
func (r Request) Validate() error {
	if len(r.Symbols) == 0 {
		return fmt.Errorf("%w: empty symbol set", ErrInvalidParams)
	}
	if !r.Timeframe.Valid() {
		return fmt.Errorf("%w: unknown timeframe %q", ErrInvalidParams, r.Timeframe)
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: test_start and test_end are required", ErrInvalidParams)
	}
	if !r.End.After(r.Start) {
		return fmt.Errorf("%w: test_end %s is not after test_start %s",
			ErrInvalidParams, r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	if err := r.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
