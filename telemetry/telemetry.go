package telemetry

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// Rate labels the consumption band a reading was produced in. It is for display only.
type Rate string

const (
	RateHigh   Rate = "High"
	RateLow    Rate = "Low"
	RateNormal Rate = "Normal"
)

// Description returns the human readable label shown on the meter dashboard.
func (r Rate) Description() string {
	switch r {
	case RateHigh:
		return "High (Peak Hours: 4PM-7PM)"
	case RateLow:
		return "Low (Overnight Hours)"
	default:
		return "Normal"
	}
}

// Code returns a numeric representation of the rate, used where strings can't be carried (e.g. Modbus registers).
func (r Rate) Code() uint16 {
	switch r {
	case RateLow:
		return 1
	case RateHigh:
		return 3
	default:
		return 2
	}
}

// RateFromCode is the inverse of Code. Unknown codes give RateNormal and false.
func RateFromCode(code uint16) (Rate, bool) {
	switch code {
	case 1:
		return RateLow, true
	case 2:
		return RateNormal, true
	case 3:
		return RateHigh, true
	default:
		return RateNormal, false
	}
}

// timestampLayout matches the ISO-8601 strings produced by the dashboard (millisecond precision, UTC).
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ReadingEvent is a single cumulative meter reading, sent to subscribers and written to storage.
type ReadingEvent struct {
	ID              uuid.UUID
	MeterID         string
	Reading         float64 // kWh, rounded to 3 decimal places
	Time            time.Time
	ConsumptionRate Rate
	Rollover        bool // true if the meter passed its ceiling and was reset to its baseline on this reading
}

// readingEventJSON holds the json encoding schema for a reading event.
type readingEventJSON struct {
	ID                         uuid.UUID `json:"id"`
	MeterID                    string    `json:"meter_id"`
	Reading                    float64   `json:"reading"`
	Timestamp                  string    `json:"timestamp"`
	ConsumptionRate            Rate      `json:"consumption_rate"`
	ConsumptionRateDescription string    `json:"consumption_rate_description"`
	Rollover                   bool      `json:"rollover,omitempty"`
}

// Timestamp returns the ISO-8601 representation of the reading time.
func (e ReadingEvent) Timestamp() string {
	return FormatTimestamp(e.Time)
}

func (e ReadingEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingEventJSON{
		ID:                         e.ID,
		MeterID:                    e.MeterID,
		Reading:                    e.Reading,
		Timestamp:                  e.Timestamp(),
		ConsumptionRate:            e.ConsumptionRate,
		ConsumptionRateDescription: e.ConsumptionRate.Description(),
		Rollover:                   e.Rollover,
	})
}

func (e *ReadingEvent) UnmarshalJSON(data []byte) error {
	var raw readingEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return err
	}
	*e = ReadingEvent{
		ID:              raw.ID,
		MeterID:         raw.MeterID,
		Reading:         raw.Reading,
		Time:            t,
		ConsumptionRate: raw.ConsumptionRate,
		Rollover:        raw.Rollover,
	}
	return nil
}

// FormatTimestamp renders t as an ISO-8601 UTC string with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Round3 rounds v to 3 decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
