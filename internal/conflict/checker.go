// Package conflict detects overlapping trainer bookings.
package conflict

import (
	"time"

	"github.com/Eursukkul/studio-booking/internal/lifecycle"
	"github.com/Eursukkul/studio-booking/internal/models"
)

// Overlaps reports whether [s1, s1+d1) and [s2, s2+d2) intersect.
func Overlaps(s1 time.Time, d1 time.Duration, s2 time.Time, d2 time.Duration) bool {
	return s1.Before(s2.Add(d2)) && s2.Before(s1.Add(d1))
}

// Conflicts reports whether a candidate slot overlaps any active booking.
func Conflicts(start time.Time, d time.Duration, existing []models.Booking) bool {
	return FirstConflict(start, d, existing) != nil
}

// FirstConflict returns the first active booking overlapping the candidate,
// or nil. Cancelled, expired and completed bookings never block.
func FirstConflict(start time.Time, d time.Duration, existing []models.Booking) *models.Booking {
	for i := range existing {
		b := &existing[i]
		if !lifecycle.IsActive(b.State) {
			continue
		}
		if Overlaps(start, d, b.StartsAt, b.Duration()) {
			return b
		}
	}
	return nil
}
