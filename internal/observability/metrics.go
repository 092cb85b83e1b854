package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the Prometheus metrics of the service.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	importDuration  *prometheus.HistogramVec
	importedRecords *prometheus.CounterVec
	importFailures  *prometheus.CounterVec
	clearedRecords  *prometheus.CounterVec
	storeDuration   *prometheus.HistogramVec
	wizardSessions  prometheus.Gauge
}

// NewMetrics registers all metrics in a private registry, so it can be
// called more than once (tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		importDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webgis_import_duration_seconds",
				Help:    "Duration of replace-imports by entity kind.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		importedRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webgis_imported_records_total",
				Help: "Total records created by imports.",
			},
			[]string{"kind"},
		),
		importFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webgis_import_failures_total",
				Help: "Total failed imports by phase.",
			},
			[]string{"kind", "phase"},
		),
		clearedRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webgis_cleared_records_total",
				Help: "Total records deleted by clear and replace.",
			},
			[]string{"kind"},
		),
		storeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webgis_store_request_duration_seconds",
				Help:    "Duration of entity store calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		wizardSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webgis_wizard_sessions",
				Help: "Open import wizard sessions.",
			},
		),
	}
}

// RecordImport records a finished import.
func (m *Metrics) RecordImport(kind string, d time.Duration, created int) {
	if m == nil {
		return
	}
	m.importDuration.WithLabelValues(kind).Observe(d.Seconds())
	m.importedRecords.WithLabelValues(kind).Add(float64(created))
}

// IncrImportFailure counts a failed import.
func (m *Metrics) IncrImportFailure(kind, phase string) {
	if m == nil {
		return
	}
	m.importFailures.WithLabelValues(kind, phase).Inc()
}

// AddCleared counts deleted records.
func (m *Metrics) AddCleared(kind string, n int) {
	if m == nil {
		return
	}
	m.clearedRecords.WithLabelValues(kind).Add(float64(n))
}

// RecordStoreDuration records the duration of a store call.
func (m *Metrics) RecordStoreDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetWizardSessions sets the open session gauge.
func (m *Metrics) SetWizardSessions(n int) {
	if m == nil {
		return
	}
	m.wizardSessions.Set(float64(n))
}

// ImportedRecords returns the imported records counter for kind.
func (m *Metrics) ImportedRecords(kind string) float64 {
	return counterValue(m.importedRecords, kind)
}

// ImportFailures returns the failure counter for kind and phase.
func (m *Metrics) ImportFailures(kind, phase string) float64 {
	return counterValue(m.importFailures, kind, phase)
}

// ClearedRecords returns the cleared records counter for kind.
func (m *Metrics) ClearedRecords(kind string) float64 {
	return counterValue(m.clearedRecords, kind)
}

// WizardSessions returns the open session gauge.
func (m *Metrics) WizardSessions() float64 {
	g := &dto.Metric{}
	if err := m.wizardSessions.Write(g); err != nil || g.Gauge == nil {
		return 0
	}
	return g.Gauge.GetValue()
}

// counterValue extracts the current value of a CounterVec child.
func counterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// WatchEvents exposes the subscriber count and dropped deliveries of the
// change-event bus. Call it once per Metrics.
func (m *Metrics) WatchEvents(subscribers func() int, dropped func() int64) {
	if m == nil {
		return
	}
	factory := promauto.With(m.Registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "webgis_event_subscribers",
		Help: "Live change-event subscriptions.",
	}, func() float64 { return float64(subscribers()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "webgis_events_dropped_total",
		Help: "Change events skipped for slow subscribers.",
	}, func() float64 { return float64(dropped()) })
}
