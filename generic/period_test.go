package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/leave-engine/generic"
)

func TestPeriod_Days(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{"single day", generic.Date(2025, 3, 17), generic.Date(2025, 3, 17), 1},
		{"work week", generic.Date(2025, 3, 17), generic.Date(2025, 3, 21), 5},
		{"across february", generic.Date(2024, 2, 28), generic.Date(2024, 3, 1), 3},
		{"across new year", generic.Date(2025, 12, 30), generic.Date(2026, 1, 2), 4},
		{"time of day ignored", time.Date(2025, 3, 17, 23, 0, 0, 0, time.UTC), time.Date(2025, 3, 18, 1, 0, 0, 0, time.UTC), 2},
		{"reversed", generic.Date(2025, 3, 21), generic.Date(2025, 3, 17), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := generic.NewPeriod(tt.start, tt.end)
			assert.Equal(t, tt.want, p.Days())
			assert.Equal(t, tt.want > 0, p.Valid())
		})
	}
}

func TestPeriod_Overlaps(t *testing.T) {
	week := generic.NewPeriod(generic.Date(2025, 3, 17), generic.Date(2025, 3, 21))

	tests := []struct {
		name  string
		other generic.Period
		want  bool
	}{
		{"same", week, true},
		{"shares last day", generic.NewPeriod(generic.Date(2025, 3, 21), generic.Date(2025, 3, 25)), true},
		{"inside", generic.NewPeriod(generic.Date(2025, 3, 18), generic.Date(2025, 3, 19)), true},
		{"day after", generic.NewPeriod(generic.Date(2025, 3, 22), generic.Date(2025, 3, 23)), false},
		{"day before", generic.NewPeriod(generic.Date(2025, 3, 10), generic.Date(2025, 3, 16)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, week.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(week))
		})
	}
}

func TestYearPeriod(t *testing.T) {
	y := generic.YearPeriod(2024)
	assert.Equal(t, 366, y.Days())
	assert.True(t, y.Contains(time.Date(2024, 12, 31, 18, 0, 0, 0, time.UTC)))
	assert.False(t, y.Contains(generic.Date(2025, 1, 1)))
	assert.Equal(t, "[2024-01-01, 2024-12-31]", y.String())
}
