package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconciliation counts what the coordinator does with externally-sourced
// events; duplicates and version conflicts are expected operational signals,
// not errors.
type Reconciliation struct {
	EventsApplied    *prometheus.CounterVec
	DuplicateEvents  prometheus.Counter
	VersionConflicts prometheus.Counter
	GatewayFailures  *prometheus.CounterVec
	ApplyLatencyMS   prometheus.Histogram
}

func NewReconciliation() *Reconciliation {
	eventsApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketcore",
		Subsystem: "reconciliation",
		Name:      "events_applied_total",
		Help:      "Gateway/admin events applied exactly once.",
	}, []string{"type"})

	duplicateEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "marketcore",
		Subsystem: "reconciliation",
		Name:      "duplicate_events_total",
		Help:      "Replayed event ids acknowledged as no-ops.",
	})

	versionConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "marketcore",
		Subsystem: "reconciliation",
		Name:      "version_conflicts_total",
		Help:      "Optimistic-concurrency retries on aggregate writes.",
	})

	gatewayFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketcore",
		Subsystem: "gateway",
		Name:      "failures_total",
		Help:      "Failed or unknown-outcome gateway calls.",
	}, []string{"op"})

	applyLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketcore",
		Subsystem: "reconciliation",
		Name:      "apply_duration_ms",
		Help:      "Event application latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	prometheus.MustRegister(eventsApplied, duplicateEvents, versionConflicts, gatewayFailures, applyLatency)

	return &Reconciliation{
		EventsApplied:    eventsApplied,
		DuplicateEvents:  duplicateEvents,
		VersionConflicts: versionConflicts,
		GatewayFailures:  gatewayFailures,
		ApplyLatencyMS:   applyLatency,
	}
}

func (m *Reconciliation) ObserveApply(eventType string, start time.Time) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(eventType).Inc()
	m.ApplyLatencyMS.Observe(float64(time.Since(start).Milliseconds()))
}

func (m *Reconciliation) IncDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateEvents.Inc()
}

func (m *Reconciliation) IncConflict() {
	if m == nil {
		return
	}
	m.VersionConflicts.Inc()
}

func (m *Reconciliation) IncGatewayFailure(op string) {
	if m == nil {
		return
	}
	m.GatewayFailures.WithLabelValues(op).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
