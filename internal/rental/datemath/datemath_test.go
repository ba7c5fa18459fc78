package datemath

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jia-app/offhireservice/internal/rental/domain"
)

func d(s string) domain.Date { return domain.MustParseDate(s) }

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		from, to string
		want     int
	}{
		{"2024-01-01", "2024-01-21", 20},
		{"2024-01-21", "2024-01-31", 10},
		{"2024-01-01", "2024-01-01", 0},
		{"2024-01-31", "2024-01-21", 0},
		{"2024-02-28", "2024-03-01", 2}, // leap year
		{"2024-03-30", "2024-04-01", 2}, // spans a European DST change
		{"2023-12-31", "2024-01-01", 1},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysBetween(d(tt.from), d(tt.to)))
		})
	}
}

func TestDaysRentedAndUnusedDays(t *testing.T) {
	assert.Equal(t, 20, DaysRented(d("2024-01-01"), d("2024-01-21")))
	assert.Equal(t, 10, UnusedDays(d("2024-01-21"), d("2024-01-31")))
	assert.Equal(t, 0, UnusedDays(d("2024-02-05"), d("2024-01-31")))
}

func TestDateOfIgnoresLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	late := time.Date(2024, 3, 31, 23, 59, 0, 0, loc)
	assert.Equal(t, 1, DaysBetween(domain.DateOf(late), d("2024-04-01")))
}

func TestElapsed(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	assert.InDelta(t, 90.5, Elapsed(now.Add(-90*Day-12*time.Hour), now), 1e-9)
}
