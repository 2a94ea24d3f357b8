package meter

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/cepro/metersim/consumption"
	"github.com/cepro/metersim/telemetry"
	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
)

// fixedModel returns the same delta at all times.
type fixedModel struct {
	delta float64
	rate  telemetry.Rate
}

func (f fixedModel) Delta(time.Time) float64 { return f.delta }

func (f fixedModel) Classify(time.Time) telemetry.Rate { return f.rate }

// mustParseTime returns the time.Time associated with the given string or panics.
func mustParseTime(str string) time.Time {
	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNext(t *testing.T) {

	now := mustParseTime("2024-01-01T12:00:00Z")

	type subTest struct {
		name             string
		state            State
		delta            float64
		expectedReading  float64
		expectedRollover bool
	}

	subTests := []subTest{
		{"Accumulates", State{"M1", 1000, 1000}, 0.0625, 1000.0625, false},
		{"Reaches ceiling exactly", State{"M1", 9999.5, 1000}, 0.5, 10000, false},
		{"Exceeds ceiling", State{"M1", 9999.99, 1000}, 0.05, 1000, true},
		{"Exceeds ceiling by a lot", State{"M2", 9999.99, 2000}, 500, 2000, true},
		{"Zero delta", State{"M1", 42, 0}, 0, 42, false},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			gen := NewGenerator(fixedModel{delta: subTest.delta, rate: telemetry.RateNormal})
			next, event := gen.Next(subTest.state, now)

			assert.InDelta(t, subTest.expectedReading, next.Reading, 1e-9)
			assert.Equal(t, subTest.state.Baseline, next.Baseline)
			assert.Equal(t, subTest.state.MeterID, next.MeterID)

			assert.Equal(t, subTest.state.MeterID, event.MeterID)
			assert.Equal(t, telemetry.Round3(next.Reading), event.Reading)
			assert.Equal(t, subTest.expectedRollover, event.Rollover)
			assert.Equal(t, now, event.Time)
			assert.Equal(t, telemetry.RateNormal, event.ConsumptionRate)
		})
	}
}

func TestNextRoundsOnlyTheEvent(t *testing.T) {
	gen := NewGenerator(fixedModel{delta: 0.0004})
	state := NewState("M1", 1, 1)
	now := mustParseTime("2024-01-01T12:00:00Z")

	var event telemetry.ReadingEvent
	for i := 0; i < 5; i++ {
		state, event = gen.Next(state, now)
	}

	// five deltas of 0.0004 would be lost if rounding happened on every tick
	assert.InDelta(t, 1.002, state.Reading, 1e-9)
	assert.Equal(t, 1.002, event.Reading)
}

func TestMonotonicUntilReset(t *testing.T) {
	gen := NewGenerator(consumption.NewDefault(time.UTC, rand.NewSource(3)))
	state := NewState("M1", 9500, 1000)
	now := mustParseTime("2024-01-01T00:00:00Z")

	rollovers := 0
	for i := 0; i < 20000; i++ {
		now = now.Add(2 * time.Second)
		previous := state.Reading
		var event telemetry.ReadingEvent
		state, event = gen.Next(state, now)

		if event.Rollover {
			rollovers++
			assert.Equal(t, 1000.0, state.Reading)
			assert.Equal(t, 1000.0, event.Reading)
			continue
		}
		assert.GreaterOrEqual(t, state.Reading, previous)
		assert.LessOrEqual(t, state.Reading, Ceiling)
	}
	assert.Greater(t, rollovers, 0, "expected the meter to pass its ceiling")
}

func TestRolloverScenario(t *testing.T) {
	gen := NewGenerator(consumption.NewDefault(time.UTC, rand.NewSource(11)))
	state := NewState("M1", 9995.5, 1000)
	now := mustParseTime("2024-01-01T18:00:00Z")

	next, event := gen.Next(state, now)

	assert.Equal(t, telemetry.RateHigh, event.ConsumptionRate)
	if event.Rollover {
		assert.Equal(t, 1000.0, event.Reading)
		assert.Equal(t, 1000.0, next.Reading)
	} else {
		assert.Greater(t, event.Reading, 9995.5)
	}

	t.Run("Logs the reset", func(t *testing.T) {
		var logs bytes.Buffer
		previous := slog.Default()
		slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
		t.Cleanup(func() {
			slog.SetDefault(previous)
		})

		gen := NewGenerator(fixedModel{delta: 10, rate: telemetry.RateHigh})
		next, event := gen.Next(state, now)

		assert.True(t, event.Rollover)
		assert.Equal(t, 1000.0, next.Reading)
		assert.Contains(t, logs.String(), "Meter exceeded ceiling, resetting to baseline")
		assert.Contains(t, logs.String(), "meter_id=M1")
		assert.Contains(t, logs.String(), "ceiling=10000")
		assert.Contains(t, logs.String(), "baseline=1000")
	})

	t.Run("Quiet without reset", func(t *testing.T) {
		var logs bytes.Buffer
		previous := slog.Default()
		slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
		t.Cleanup(func() {
			slog.SetDefault(previous)
		})

		gen := NewGenerator(fixedModel{delta: 1, rate: telemetry.RateHigh})
		_, event := gen.Next(state, now)

		assert.False(t, event.Rollover)
		assert.NotContains(t, logs.String(), "Meter exceeded ceiling")
	})
}

func TestNewStateFallsBackToBaseline(t *testing.T) {
	assert.Equal(t, 3000.0, NewState("M3", -1, 3000).Reading)
	assert.Equal(t, 12.5, NewState("M3", 12.5, 3000).Reading)
}
