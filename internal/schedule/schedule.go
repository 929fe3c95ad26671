// Package schedule answers quiet-hour questions for an account.
package schedule

import (
	"slices"
	"time"
)

// InQuietHours reports whether now falls in one of the UTC quietHours.
func InQuietHours(now time.Time, quietHours []int) bool {
	return slices.Contains(quietHours, now.UTC().Hour())
}

// NextWindow returns the start of the next hour outside quietHours, or now
// itself when now is already outside them.
func NextWindow(now time.Time, quietHours []int) time.Time {
	now = now.UTC()
	if !InQuietHours(now, quietHours) {
		return now
	}
	hour := now.Truncate(time.Hour)
	for i := 1; i <= 24; i++ { // search one day ahead
		cand := hour.Add(time.Duration(i) * time.Hour)
		if !InQuietHours(cand, quietHours) {
			return cand
		}
	}
	// every hour is quiet
	return time.Time{}
}
