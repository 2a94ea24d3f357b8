package timeutils

import (
	"fmt"
	"time"
)

// ClockTimePeriod represents a period of time that is defined by local clock time, without any date information, e.g. "4pm to 7pm".
//
// If End is not after Start the period wraps over midnight, e.g. "11pm to 6am".
type ClockTimePeriod struct {
	Start ClockTime
	End   ClockTime
}

// NewClockTimePeriod is shorthand for a period between two whole hours in the given location.
func NewClockTimePeriod(startHour, endHour int, location *time.Location) ClockTimePeriod {
	return ClockTimePeriod{
		Start: ClockTime{Hour: startHour, Location: location},
		End:   ClockTime{Hour: endHour, Location: location},
	}
}

// Validate checks that both ends of the period are sensible clock times in the same location.
func (p ClockTimePeriod) Validate() error {
	for _, c := range []ClockTime{p.Start, p.End} {
		if c.Hour < 0 || c.Hour > 24 || c.Minute < 0 || c.Minute > 59 || c.Second < 0 || c.Second > 59 {
			return fmt.Errorf("invalid clock time %02d:%02d:%02d", c.Hour, c.Minute, c.Second)
		}
		if c.Hour == 24 && (c.Minute != 0 || c.Second != 0) {
			return fmt.Errorf("invalid clock time %02d:%02d:%02d", c.Hour, c.Minute, c.Second)
		}
	}
	if p.Start.location().String() != p.End.location().String() {
		return fmt.Errorf("clock time period starts in %s but ends in %s", p.Start.location(), p.End.location())
	}
	return nil
}

// AbsolutePeriod returns the `Period` instance of the `ClockTimePeriod` that contains `t`.
// If `t` is outside of the `ClockTimePeriod` then the `ok` boolean is returned as false.
//
// The period is inclusive of its start and exclusive of its end.
//
// For example, a ClockTimePeriod of "11pm to 6am" with a reference `t` of "2023/10/19 02:00:00" yields
// "2023/10/18 23:00:00 to 2023/10/19 06:00:00".
func (p ClockTimePeriod) AbsolutePeriod(t time.Time) (Period, bool) {

	// The day must be taken in the period's own timezone, otherwise it can be wrong near midnight
	t = t.In(p.Start.location())
	year, month, day := t.Date()

	start := p.Start.OnDate(year, month, day)
	end := p.End.OnDate(year, month, day)

	if p.End.sinceMidnight() <= p.Start.sinceMidnight() {
		if t.Before(end) {
			start = start.AddDate(0, 0, -1)
		} else {
			end = end.AddDate(0, 0, 1)
		}
	}

	if t.Before(start) || !t.Before(end) {
		return Period{}, false
	}
	return Period{Start: start, End: end}, true
}

// Contains returns true if the given t is contained in the ClockTimePeriod
func (p ClockTimePeriod) Contains(t time.Time) bool {
	_, contains := p.AbsolutePeriod(t)
	return contains
}

// AnyContains returns true if any of the given periods contains t.
func AnyContains(periods []ClockTimePeriod, t time.Time) bool {
	for _, period := range periods {
		if period.Contains(t) {
			return true
		}
	}
	return false
}
