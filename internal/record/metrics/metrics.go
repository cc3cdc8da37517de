package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upsert outcomes.
const (
	OutcomeCreated    = "created"
	OutcomeUpdated    = "updated"
	OutcomeReplayed   = "replayed"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
	OutcomeConflicted = "conflict_retried"
)

// Metrics provides observability for the record engine.
type Metrics struct {
	Upserts         *prometheus.CounterVec
	UpsertLatency   prometheus.Histogram
	FieldsAdded     prometheus.Counter
	Searches        *prometheus.CounterVec
	AuditFailures   *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
}

// New registers the record metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Upserts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_record_upserts_total",
			Help: "Record upserts by outcome",
		}, []string{"outcome", "verification_type"}),

		UpsertLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyc_record_upsert_duration_seconds",
			Help:    "Duration of a record upsert including lock wait and persistence",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		FieldsAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "kyc_schema_fields_added_total",
			Help: "Extension fields added to the active record schema",
		}),

		Searches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_record_searches_total",
			Help: "Read-side record searches by field",
		}, []string{"field"}),

		AuditFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_audit_failures_total",
			Help: "Audit and search log writes that failed or were dropped",
		}, []string{"kind"}),

		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_upstream_request_duration_seconds",
			Help:    "Duration of verification provider calls by type and status",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"verification_type", "status"}),
	}
}

func (m *Metrics) IncrementUpsert(outcome, verificationType string) {
	if m != nil {
		m.Upserts.WithLabelValues(outcome, verificationType).Inc()
	}
}

// ObserveUpsert records the time since start.
func (m *Metrics) ObserveUpsert(start time.Time) {
	if m != nil {
		m.UpsertLatency.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) AddFields(n int) {
	if m != nil && n > 0 {
		m.FieldsAdded.Add(float64(n))
	}
}

func (m *Metrics) IncrementSearch(field string) {
	if m != nil {
		m.Searches.WithLabelValues(field).Inc()
	}
}

// IncrementAuditFailure counts an audit or search entry that was not recorded.
func (m *Metrics) IncrementAuditFailure(kind string) {
	if m != nil {
		m.AuditFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveUpstream(verificationType, status string, d time.Duration) {
	if m != nil {
		m.UpstreamLatency.WithLabelValues(verificationType, status).Observe(d.Seconds())
	}
}
