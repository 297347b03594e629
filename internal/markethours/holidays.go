package markethours

import "time"

// Days on which liquidity providers close the interbank FX market.
var closures = []struct {
	month time.Month
	day   int
}{
	{time.December, 25}, // Christmas
	{time.January, 1},   // New Year
}

// IsHoliday reports whether t (in UTC) is an FX closure day.
func IsHoliday(t time.Time) bool {
	u := t.UTC()
	for _, c := range closures {
		if u.Month() == c.month && u.Day() == c.day {
			return true
		}
	}
	return false
}
