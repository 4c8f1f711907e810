// Package schedule computes the next target instant for each spawn timer
// kind. All functions are pure: given a current time (and, for chobos, the
// configured minute) they return the next occurrence without touching any
// shared state.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrBadMinute is returned when a minute input falls outside 0-59.
var ErrBadMinute = errors.New("schedule: minute must be between 0 and 59")

// spawnHourUTC is the hour of day the weekly spawn fires, in UTC.
const spawnHourUTC = 18

// NextMinuteOfHour returns the next occurrence of minute m: this hour if m is
// still ahead of now's minute, otherwise that minute of the next hour.
// Seconds and sub-second fields are zeroed.
func NextMinuteOfHour(now time.Time, m int) (time.Time, error) {
	if m < 0 || m > 59 {
		return time.Time{}, fmt.Errorf("%w: got %d", ErrBadMinute, m)
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), m, 0, 0, now.Location())
	if m <= now.Minute() {
		target = target.Add(time.Hour)
	}
	return target, nil
}

// NextTopOfHour returns the top of the hour after now.
func NextTopOfHour(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location()).Add(time.Hour)
}

// NextWeeklySpawn returns the next Monday or Thursday at 18:00 UTC.
//
// The gap rule is intentionally non-uniform: a spawn on Monday is followed by
// one three days later on Thursday, which is followed by one four days later
// on the next Monday. Evaluated on a Monday or Thursday before 18:00 UTC the
// target is that same day; after 18:00 it advances by the 3/4-day gap. On any
// other weekday it advances to the nearest of the pair.
func NextWeeklySpawn(now time.Time) time.Time {
	utc := now.UTC()
	next := time.Date(utc.Year(), utc.Month(), utc.Day(), spawnHourUTC, 0, 0, 0, time.UTC)
	switch day := utc.Weekday(); day {
	case time.Monday, time.Thursday:
		if !utc.Before(next) {
			if day == time.Monday {
				next = next.AddDate(0, 0, 3)
			} else {
				next = next.AddDate(0, 0, 4)
			}
		}
	default:
		var add int
		switch {
		case day < time.Monday:
			add = int(time.Monday - day)
		case day < time.Thursday:
			add = int(time.Thursday - day)
		default:
			add = 8 - int(day)
		}
		next = next.AddDate(0, 0, add)
	}
	return next
}
