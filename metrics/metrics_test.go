package metrics

import (
	"testing"
	"time"

	"github.com/cepro/metersim/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveReading(t *testing.T) {
	labels := prometheus.Labels{"meter_id": "metrics-test", "rate": string(telemetry.RateHigh)}
	before := testutil.ToFloat64(readingsCounter.With(labels))
	rolloversBefore := testutil.ToFloat64(rolloverCounter.With(prometheus.Labels{"meter_id": "metrics-test"}))

	ObserveReading(telemetry.ReadingEvent{MeterID: "metrics-test", Reading: 1, Time: time.Now(), ConsumptionRate: telemetry.RateHigh})
	ObserveReading(telemetry.ReadingEvent{MeterID: "metrics-test", Reading: 1000, Time: time.Now(), ConsumptionRate: telemetry.RateHigh, Rollover: true})
	ObserveReading(telemetry.ReadingEvent{})

	assert.Equal(t, before+2, testutil.ToFloat64(readingsCounter.With(labels)))
	assert.Equal(t, rolloversBefore+1, testutil.ToFloat64(rolloverCounter.With(prometheus.Labels{"meter_id": "metrics-test"})))
}

func TestSessionGauge(t *testing.T) {
	gauge := sessionsGauge.With(prometheus.Labels{"transport": "metrics-test"})

	SessionStarted("metrics-test")
	SessionStarted("metrics-test")
	SessionStopped("metrics-test")
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge))

	ObservePersisted("metrics-test", 1234.5)
	assert.Equal(t, 1234.5, testutil.ToFloat64(lastReadingGauge.With(prometheus.Labels{"meter_id": "metrics-test"})))
}
