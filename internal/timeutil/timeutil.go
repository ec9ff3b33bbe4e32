// Package timeutil anchors dates to the configured timezone and logical
// day boundary.
package timeutil

import "time"

// LogicalDate returns the calendar day a moment belongs to, given the hour at
// which a logical day begins. A run at 01:30 with a 04:00 boundary still
// belongs to the previous day.
func LogicalDate(now time.Time, boundaryHour int) time.Time {
	if boundaryHour < 0 || boundaryHour > 23 {
		boundaryHour = 4
	}
	boundary := time.Date(now.Year(), now.Month(), now.Day(), boundaryHour, 0, 0, 0, now.Location())
	if now.Before(boundary) {
		now = now.AddDate(0, 0, -1)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// Window is a half-open [Start, End) time span.
type Window struct {
	Start time.Time
	End   time.Time
}

// LookbackWindow returns the window ending at now and starting the given
// number of days earlier.
func LookbackWindow(now time.Time, days int) Window {
	return Window{Start: now.AddDate(0, 0, -days), End: now}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
