package meter

import (
	"log/slog"
	"time"

	"github.com/cepro/metersim/telemetry"
	"github.com/google/uuid"
)

// Ceiling is the largest cumulative reading a meter will show before it is reset to its baseline.
const Ceiling = 10000.0

// State is the cumulative reading of one simulated meter.
type State struct {
	MeterID  string
	Reading  float64 // kWh, kept at full precision
	Baseline float64 // the value used on first start and after a rollover
}

// NewState returns the state of a meter that starts from `reading`, or from its baseline if the reading is negative.
func NewState(meterID string, reading, baseline float64) State {
	if reading < 0 {
		reading = baseline
	}
	return State{
		MeterID:  meterID,
		Reading:  reading,
		Baseline: baseline,
	}
}

// DeltaModel provides the per-tick consumption and its display label.
type DeltaModel interface {
	Delta(now time.Time) float64
	Classify(now time.Time) telemetry.Rate
}

// Generator advances meter states and produces the resulting reading events.
type Generator struct {
	model  DeltaModel
	logger *slog.Logger
}

func NewGenerator(model DeltaModel) *Generator {
	return &Generator{
		model:  model,
		logger: slog.Default(),
	}
}

// Next returns the new state of the meter and the reading event for time `now`.
//
// If the new cumulative reading exceeds `Ceiling` the meter is reset to its baseline, the excess is discarded.
func (g *Generator) Next(state State, now time.Time) (State, telemetry.ReadingEvent) {

	reading := state.Reading + g.model.Delta(now)

	rollover := false
	if reading > Ceiling {
		g.logger.Info(
			"Meter exceeded ceiling, resetting to baseline",
			"meter_id", state.MeterID,
			"ceiling", Ceiling,
			"baseline", state.Baseline,
		)
		reading = state.Baseline
		rollover = true
	}

	state.Reading = reading

	return state, telemetry.ReadingEvent{
		ID:              uuid.New(),
		MeterID:         state.MeterID,
		Reading:         telemetry.Round3(reading),
		Time:            now,
		ConsumptionRate: g.model.Classify(now),
		Rollover:        rollover,
	}
}
