package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit chain engine. All methods are
// nil-safe so services can run without metrics wired (tests, tooling).
type Metrics struct {
	AppendsTotal      *prometheus.CounterVec
	AppendConflicts   prometheus.Counter
	AppendContention  prometheus.Counter
	AppendDuration    prometheus.Histogram
	VerificationsTotal *prometheus.CounterVec
	VerifyDuration    prometheus.Histogram
	ExportsTotal      prometheus.Counter
	ExportEntries     prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		AppendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_audit_appends_total",
			Help: "Committed audit entries by event type",
		}, []string{"event_type"}),

		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_audit_append_conflicts_total",
			Help: "Optimistic concurrency conflicts during append (retried internally)",
		}),

		AppendContention: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_audit_append_contention_total",
			Help: "Appends that exhausted the conflict retry budget",
		}),

		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_audit_append_duration_seconds",
			Help:    "Duration of the full append protocol including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		VerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_audit_verifications_total",
			Help: "Chain verifications by outcome",
		}, []string{"outcome"}), // outcome: "valid", "broken"

		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_audit_verify_duration_seconds",
			Help:    "Duration of chain range verification",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		ExportsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_audit_exports_total",
			Help: "Verified bundles exported",
		}),

		ExportEntries: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_audit_export_entries",
			Help:    "Entries per exported bundle",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (m *Metrics) IncAppend(eventType string) {
	if m != nil {
		m.AppendsTotal.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) IncConflict() {
	if m != nil {
		m.AppendConflicts.Inc()
	}
}

func (m *Metrics) IncContention() {
	if m != nil {
		m.AppendContention.Inc()
	}
}

func (m *Metrics) ObserveAppend(d time.Duration) {
	if m != nil {
		m.AppendDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncVerification(outcome string) {
	if m != nil {
		m.VerificationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveVerify(d time.Duration) {
	if m != nil {
		m.VerifyDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncExport(entries int) {
	if m != nil {
		m.ExportsTotal.Inc()
		m.ExportEntries.Observe(float64(entries))
	}
}
