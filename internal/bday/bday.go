// Package bday computes broadcast-day window boundaries: the 24h period
// starting at a channel's configured programming_day_start_local, as
// opposed to the calendar midnight.
package bday

import "time"

// Start returns the absolute local start of the broadcast day anchored at
// calendar date `date`, beginning at dayStartHour:dayStartMinute.
func Start(date time.Time, dayStartHour, dayStartMinute int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), dayStartHour, dayStartMinute, 0, 0, date.Location())
}

// End returns the exclusive end of the broadcast day (Start + 24h).
func End(date time.Time, dayStartHour, dayStartMinute int) time.Time {
	return Start(date, dayStartHour, dayStartMinute).Add(24 * time.Hour)
}

// Window returns [Start, End).
func Window(date time.Time, dayStartHour, dayStartMinute int) (time.Time, time.Time) {
	s := Start(date, dayStartHour, dayStartMinute)
	return s, s.Add(24 * time.Hour)
}

// ContainingDate returns the calendar date whose broadcast day contains
// instant t, given the programming day start. If t falls before the
// day-start hour:minute on its own calendar date, it belongs to the
// broadcast day anchored on the previous calendar date.
func ContainingDate(t time.Time, dayStartHour, dayStartMinute int) time.Time {
	local := t.In(t.Location())
	anchor := time.Date(local.Year(), local.Month(), local.Day(), dayStartHour, dayStartMinute, 0, 0, local.Location())
	if local.Before(anchor) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	return time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, local.Location())
}
