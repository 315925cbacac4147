package timeutil

import (
	"math"
	"time"
)

// Day is the fixed 24h unit used for proration and reminder arithmetic.
// Billing periods themselves are calendar-aware (see models.BillingCycle.AddTo).
const Day = 24 * time.Hour

// Clock abstracts the wall clock so scheduled jobs can be driven deterministically
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real clock in UTC
type SystemClock struct{}

// Now implements Clock
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// CeilDays returns the number of whole or partial days from `from` until `to`.
// A non-positive span returns 0.
func CeilDays(from, to time.Time) int {
	span := to.Sub(from)
	if span <= 0 {
		return 0
	}
	return int(math.Ceil(float64(span) / float64(Day)))
}
