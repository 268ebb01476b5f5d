// Package habit defines habit completion records and calendar-day helpers.
package habit

import "time"

// Completion marks a habit done on one calendar day. At most one completion
// exists per (habit, date); rows are never updated.
type Completion struct {
	HabitID   string
	UserID    string
	Date      time.Time // normalised to midnight UTC of the user-local day
	CreatedAt time.Time
}

// Day truncates an instant to the calendar day observed in the given
// location, represented as midnight UTC for stable storage and comparison.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PrevDay returns the calendar day before d.
func PrevDay(d time.Time) time.Time {
	return d.AddDate(0, 0, -1)
}
