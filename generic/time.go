package generic

import (
	"time"
)

// =============================================================================
// CALENDAR DAYS - Leave is counted in whole calendar days (UTC dates)
// =============================================================================

const DateLayout = "2006-01-02"

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Today returns today's date at midnight UTC.
func Today() time.Time { return TruncateDay(time.Now()) }

// TruncateDay drops the time of day.
func TruncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DaysBetween returns the number of days from from to to (negative if to is earlier).
func DaysBetween(from, to time.Time) int {
	return int(TruncateDay(to).Sub(TruncateDay(from)).Hours() / 24)
}

// DaysInclusive counts calendar days in [start, end]; 0 when end < start.
func DaysInclusive(start, end time.Time) int {
	n := DaysBetween(start, end) + 1
	if n < 0 {
		return 0
	}
	return n
}
