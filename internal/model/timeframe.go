package model

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a candle width such as "4H" or "1D".
type Timeframe string

const (
	TF1H Timeframe = "1H"
	TF4H Timeframe = "4H"
	TF1D Timeframe = "1D"
	TFW  Timeframe = "W"
)

// Timeframes lists every supported timeframe, shortest first.
var Timeframes = []Timeframe{TF1H, TF4H, TF1D, TFW}

// ParseTimeframe accepts the canonical names case-insensitively, plus "1W".
func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1H":
		return TF1H, nil
	case "4H":
		return TF4H, nil
	case "1D", "D":
		return TF1D, nil
	case "W", "1W":
		return TFW, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case TF1H, TF4H, TF1D, TFW:
		return true
	}
	return false
}

// Duration returns the bucket width.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1H:
		return time.Hour
	case TF4H:
		return 4 * time.Hour
	case TF1D:
		return 24 * time.Hour
	case TFW:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Align floors t to the start of its bucket in UTC.
// Intraday buckets align to hour - hour%N; weekly buckets start on Monday 00:00.
func (tf Timeframe) Align(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch tf {
	case TF1H:
		return day.Add(time.Duration(t.Hour()) * time.Hour)
	case TF4H:
		return day.Add(time.Duration(t.Hour()-t.Hour()%4) * time.Hour)
	case TF1D:
		return day
	case TFW:
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	}
	return t
}

func (tf Timeframe) String() string { return string(tf) }
