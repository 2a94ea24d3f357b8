package consumption

import (
	"fmt"
	"time"

	"github.com/cepro/metersim/telemetry"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	DefaultBaseRate = 0.05 // kWh per emit tick
	DefaultMaxNoise = 0.02 // kWh per emit tick
)

// Model computes synthetic energy deltas from the wall-clock time alone, so one model serves every meter alike.
//
// A Model is not safe for concurrent use as it owns its random source; give each session its own.
type Model struct {
	baseRate float64
	maxNoise float64
	bands    []Band
	src      rand.Source
}

// New returns a model with the given bands in priority order. A nil `src` is seeded from the clock.
func New(baseRate, maxNoise float64, bands []Band, src rand.Source) (*Model, error) {
	if baseRate < 0 {
		return nil, fmt.Errorf("negative base rate: %f", baseRate)
	}
	if maxNoise < 0 {
		return nil, fmt.Errorf("negative noise: %f", maxNoise)
	}
	for _, band := range bands {
		if err := band.Validate(); err != nil {
			return nil, err
		}
	}
	if src == nil {
		src = rand.NewSource(uint64(time.Now().UnixNano()))
	}
	return &Model{
		baseRate: baseRate,
		maxNoise: maxNoise,
		bands:    bands,
		src:      src,
	}, nil
}

// NewDefault returns a model with the default rates and bands in the given location.
func NewDefault(location *time.Location, src rand.Source) *Model {
	model, err := New(DefaultBaseRate, DefaultMaxNoise, DefaultBands(location), src)
	if err != nil {
		panic(fmt.Sprintf("default consumption model is invalid: %v", err))
	}
	return model
}

// Delta returns the energy consumed during one tick ending at `now`. It is never negative.
func (m *Model) Delta(now time.Time) float64 {
	multiplier := 1.0
	if band, ok := m.band(now); ok {
		multiplier = m.uniform(band.MinMultiplier, band.MaxMultiplier)
	}
	return m.baseRate*multiplier + m.uniform(0, m.maxNoise)
}

// Classify returns the display label for the band that `now` falls in.
func (m *Model) Classify(now time.Time) telemetry.Rate {
	if band, ok := m.band(now); ok {
		return band.Rate
	}
	return telemetry.RateNormal
}

// band returns the first band containing `now`.
func (m *Model) band(now time.Time) (Band, bool) {
	for _, band := range m.bands {
		if band.Contains(now) {
			return band, true
		}
	}
	return Band{}, false
}

func (m *Model) uniform(min, max float64) float64 {
	if max <= min {
		return min
	}
	return distuv.Uniform{Min: min, Max: max, Src: m.src}.Rand()
}
