// Package markethours knows when the spot FX market trades: from Sunday
// 22:00 UTC to Friday 22:00 UTC, except on the closure days in holidays.go.
package markethours

import (
	"fmt"
	"time"
)

// Weekly session boundaries in UTC.
const (
	OpenWeekday  = time.Sunday
	CloseWeekday = time.Friday
	RolloverHour = 22
)

// IsMarketOpen reports whether t falls inside the weekly FX session and is
// not a closure day.
func IsMarketOpen(t time.Time) bool {
	u := t.UTC()
	if IsHoliday(u) {
		return false
	}
	switch u.Weekday() {
	case time.Saturday:
		return false
	case OpenWeekday:
		return u.Hour() >= RolloverHour
	case CloseWeekday:
		return u.Hour() < RolloverHour
	default:
		return true
	}
}

// NextOpen returns the first instant at or after t when the market is open.
func NextOpen(t time.Time) time.Time {
	u := t.UTC()
	if IsMarketOpen(u) {
		return u
	}
	// walk forward hour by hour from the next whole hour; at most two weeks
	h := u.Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < 24*14; i++ {
		if IsMarketOpen(h) {
			return h
		}
		h = h.Add(time.Hour)
	}
	return h
}

// NextClose returns the end of the session containing t, or t itself when
// the market is closed.
func NextClose(t time.Time) time.Time {
	u := t.UTC()
	if !IsMarketOpen(u) {
		return u
	}
	h := u.Truncate(time.Hour).Add(time.Hour)
	for IsMarketOpen(h) {
		h = h.Add(time.Hour)
	}
	return h
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("FX open, closes in %s", fmtDur(NextClose(t).Sub(t)))
	}
	next := NextOpen(t)
	return fmt.Sprintf("FX closed, opens %s %s UTC (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
