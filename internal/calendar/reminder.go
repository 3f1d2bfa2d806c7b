package calendar

import "time"

// ReminderTime returns the instant a reminder for an occurrence starting at
// start should fire, leadMinutes before it.
func ReminderTime(start time.Time, leadMinutes int) time.Time {
	return start.Add(-time.Duration(leadMinutes) * time.Minute)
}
