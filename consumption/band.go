package consumption

import (
	"fmt"
	"time"

	"github.com/cepro/metersim/telemetry"
	timeutils "github.com/cepro/metersim/time_utils"
)

// Band is a time-of-day window with an associated consumption multiplier range.
type Band struct {
	Name          string
	Periods       []timeutils.ClockTimePeriod
	MinMultiplier float64 // inclusive
	MaxMultiplier float64 // exclusive
	Rate          telemetry.Rate
}

// Contains returns true if any of the band's periods contain t.
func (b Band) Contains(t time.Time) bool {
	return timeutils.AnyContains(b.Periods, t)
}

// Validate checks the band's periods and multiplier range.
func (b Band) Validate() error {
	if len(b.Periods) == 0 {
		return fmt.Errorf("band '%s' has no periods", b.Name)
	}
	for _, period := range b.Periods {
		if err := period.Validate(); err != nil {
			return fmt.Errorf("band '%s': %w", b.Name, err)
		}
	}
	if b.MinMultiplier < 0 || b.MaxMultiplier < b.MinMultiplier {
		return fmt.Errorf("band '%s' has invalid multiplier range [%f, %f)", b.Name, b.MinMultiplier, b.MaxMultiplier)
	}
	return nil
}

// DefaultBands returns the UK household consumption pattern, in priority order.
//
// The peak and elevated bands overlap between 5pm and 7pm. Peak is listed first so it wins.
// The elevated band is labelled Normal even though it raises consumption.
func DefaultBands(location *time.Location) []Band {
	return []Band{
		{
			Name:          "peak",
			Periods:       []timeutils.ClockTimePeriod{timeutils.NewClockTimePeriod(16, 19, location)},
			MinMultiplier: 1.5,
			MaxMultiplier: 2.0,
			Rate:          telemetry.RateHigh,
		},
		{
			Name:          "overnight",
			Periods:       []timeutils.ClockTimePeriod{timeutils.NewClockTimePeriod(23, 6, location)},
			MinMultiplier: 0.5,
			MaxMultiplier: 0.7,
			Rate:          telemetry.RateLow,
		},
		{
			Name: "elevated",
			Periods: []timeutils.ClockTimePeriod{
				timeutils.NewClockTimePeriod(6, 9, location),
				timeutils.NewClockTimePeriod(17, 22, location),
			},
			MinMultiplier: 1.1,
			MaxMultiplier: 1.3,
			Rate:          telemetry.RateNormal,
		},
	}
}
