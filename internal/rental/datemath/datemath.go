// Package datemath holds the day-count rules shared by eligibility and
// refund calculation.
//
// Consumption is rounded up against the renter and unused time is rounded up
// in the renter's favour. Both directions must be preserved exactly.
package datemath

import (
	"math"
	"time"

	"github.com/jia-app/offhireservice/internal/rental/domain"
)

// Day is the length of one calendar day on UTC-normalised dates.
const Day = 24 * time.Hour

// DaysBetween returns the ceiling of to-from in whole days, never negative.
func DaysBetween(from, to domain.Date) int {
	diff := to.Time().Sub(from.Time())
	if diff <= 0 {
		return 0
	}
	return int(math.Ceil(diff.Hours() / 24))
}

// DaysRented counts the days consumed between start and the actual return.
func DaysRented(start, actualEnd domain.Date) int {
	return DaysBetween(start, actualEnd)
}

// UnusedDays counts the days between the actual return and the planned end.
func UnusedDays(actualEnd, plannedEnd domain.Date) int {
	return max(0, DaysBetween(actualEnd, plannedEnd))
}

// Elapsed reports how long ago t happened relative to now, in days.
func Elapsed(t, now time.Time) float64 {
	return now.Sub(t).Hours() / 24
}
