package generic

import "time"

// =============================================================================
// PERIOD - An inclusive range of calendar days
// =============================================================================

// Period is the closed day range [Start, End]. Leave applications and leave
// years are both periods; a leave year is the calendar year.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod builds a period from two instants, dropping the time of day.
func NewPeriod(start, end time.Time) Period {
	return Period{Start: TruncateDay(start), End: TruncateDay(end)}
}

// YearPeriod is Jan 1 - Dec 31 of year.
func YearPeriod(year int) Period {
	return Period{Start: Date(year, time.January, 1), End: Date(year, time.December, 31)}
}

// Valid reports whether End is not before Start.
func (p Period) Valid() bool { return !p.End.Before(p.Start) }

// Contains returns true if the day of t is within the period.
func (p Period) Contains(t time.Time) bool {
	d := TruncateDay(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days counts the calendar days in the period, 0 when it is not valid.
func (p Period) Days() int { return DaysInclusive(p.Start, p.End) }

// Overlaps reports whether the two periods share at least one day.
func (p Period) Overlaps(o Period) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format(DateLayout) + ", " + p.End.Format(DateLayout) + "]"
}
