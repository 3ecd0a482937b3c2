package reconcile

import (
	"github.com/yugo-dao/yugo-sync/pkg/telemetry"
)

type engineMetrics struct {
	submitted  *telemetry.Counter
	completed  *telemetry.Counter
	discarded  *telemetry.Counter
	lagged     *telemetry.Counter
	inFlight   *telemetry.UpDownCounter
	settlement *telemetry.Histogram
}

// newEngineMetrics registers the engine instruments. An instrument that fails
// to register stays nil and records nothing.
func newEngineMetrics() *engineMetrics {
	m := &engineMetrics{}
	m.submitted, _ = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reconcile_intents_submitted_total",
		Description: "Intents accepted and sent to the ledger",
	})
	m.completed, _ = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reconcile_intents_completed_total",
		Description: "Intents that reached a terminal state",
	})
	m.discarded, _ = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reconcile_settlements_discarded_total",
		Description: "Settlements dropped without a projection write",
	})
	m.lagged, _ = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reconcile_projection_lag_total",
		Description: "Settled intents whose projection write failed",
	})
	m.inFlight, _ = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "reconcile_intents_in_flight",
		Description: "Intents awaiting settlement",
	})
	m.settlement, _ = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "reconcile_settlement_duration_seconds",
		Description: "Time from submission to settlement",
		Unit:        "s",
	}, 0.5, 1, 2, 5, 10, 15, 30, 60, 120)
	return m
}
