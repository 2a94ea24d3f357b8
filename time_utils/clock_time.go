package timeutils

import "time"

// ClockTime represents a time of day in the given locale, without a date.
// An Hour of 24 is allowed and refers to midnight at the end of the day.
type ClockTime struct {
	Hour     int
	Minute   int
	Second   int
	Location *time.Location // nil is treated as UTC
}

// OnDate returns a time with the given clock time on the given date
func (c ClockTime) OnDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, c.Hour, c.Minute, c.Second, 0, c.location())
}

// sinceMidnight returns the offset of the clock time from the start of the day.
func (c ClockTime) sinceMidnight() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute + time.Duration(c.Second)*time.Second
}

func (c ClockTime) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
