package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus observability primitives for the edge pipeline.
type Metrics struct {
	heartbeats      *prometheus.CounterVec
	eventsIngested  *prometheus.CounterVec
	batchesIngested *prometheus.CounterVec
	batchSize       prometheus.Histogram
	alertsEmitted   *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
}

// NewMetrics registers and returns Prometheus metrics for telemetry.
func NewMetrics() *Metrics {
	heartbeats := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_edge_heartbeats_total",
		Help: "Counts edge heartbeats by kind (first_contact, authenticated).",
	}, []string{"kind"})

	eventsIngested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_events_ingested_total",
		Help: "Counts ingested events by severity.",
	}, []string{"severity"})

	batchesIngested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_event_batches_total",
		Help: "Counts batch ingestions by outcome.",
	}, []string{"status"})

	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentra_event_batch_size",
		Help:    "Batch ingestion sizes.",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	})

	alertsEmitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_alerts_emitted_total",
		Help: "Counts risk alerts emitted by risk level.",
	}, []string{"risk_level"})

	authFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_edge_auth_failures_total",
		Help: "Counts rejected edge requests by reason.",
	}, []string{"reason"})

	prometheus.MustRegister(
		heartbeats,
		eventsIngested,
		batchesIngested,
		batchSize,
		alertsEmitted,
		authFailures,
	)

	return &Metrics{
		heartbeats:      heartbeats,
		eventsIngested:  eventsIngested,
		batchesIngested: batchesIngested,
		batchSize:       batchSize,
		alertsEmitted:   alertsEmitted,
		authFailures:    authFailures,
	}
}

// ObserveHeartbeat records one heartbeat by kind.
func (m *Metrics) ObserveHeartbeat(kind string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(sanitizeLabel(kind)).Inc()
}

// ObserveEventIngested records one persisted event.
func (m *Metrics) ObserveEventIngested(severity string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(sanitizeLabel(severity)).Inc()
}

// ObserveBatch records one batch ingestion outcome and its size.
func (m *Metrics) ObserveBatch(status string, size int) {
	if m == nil {
		return
	}
	m.batchesIngested.WithLabelValues(sanitizeLabel(status)).Inc()
	m.batchSize.Observe(float64(size))
}

// ObserveAlert records one emitted risk alert.
func (m *Metrics) ObserveAlert(riskLevel string) {
	if m == nil {
		return
	}
	m.alertsEmitted.WithLabelValues(sanitizeLabel(riskLevel)).Inc()
}

// ObserveAuthFailure records one rejected edge request.
func (m *Metrics) ObserveAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(sanitizeLabel(reason)).Inc()
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
