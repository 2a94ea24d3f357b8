package metrics

import (
	"github.com/cepro/metersim/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "metersim",
	Name:      "sessions_active",
	Help:      "Number of running simulation sessions",
}, []string{"transport"})

var readingsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "metersim",
	Name:      "readings_emitted_total",
	Help:      "Total number of readings pushed to subscribers.",
}, []string{"meter_id", "rate"})

var rolloverCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "metersim",
	Name:      "rollovers_total",
	Help:      "Total number of meters reset to their baseline after passing the ceiling.",
}, []string{"meter_id"})

var persistFailureCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "metersim",
	Name:      "persist_failures_total",
	Help:      "Total number of readings that could not be written to storage.",
}, []string{"meter_id"})

var droppedPushCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "metersim",
	Name:      "pushes_dropped_total",
	Help:      "Total number of readings dropped because a subscriber was too slow.",
}, []string{"transport"})

var lastReadingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "metersim",
	Name:      "last_persisted_reading_kwh",
	Help:      "The last reading written to storage.",
}, []string{"meter_id"})

func SessionStarted(transport string) {
	sessionsGauge.With(prometheus.Labels{"transport": transport}).Inc()
}

func SessionStopped(transport string) {
	sessionsGauge.With(prometheus.Labels{"transport": transport}).Dec()
}

func ObserveReading(event telemetry.ReadingEvent) {
	if len(event.MeterID) == 0 {
		return
	}
	readingsCounter.With(prometheus.Labels{"meter_id": event.MeterID, "rate": string(event.ConsumptionRate)}).Inc()
	if event.Rollover {
		rolloverCounter.With(prometheus.Labels{"meter_id": event.MeterID}).Inc()
	}
}

func ObservePersisted(meterID string, reading float64) {
	if len(meterID) == 0 {
		return
	}
	lastReadingGauge.With(prometheus.Labels{"meter_id": meterID}).Set(reading)
}

func CountPersistFailure(meterID string) {
	if len(meterID) == 0 {
		return
	}
	persistFailureCounter.With(prometheus.Labels{"meter_id": meterID}).Inc()
}

func CountDroppedPush(transport string) {
	droppedPushCounter.With(prometheus.Labels{"transport": transport}).Inc()
}
