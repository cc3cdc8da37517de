package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP-level Prometheus metrics.
type Metrics struct {
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// New registers the HTTP metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_http_request_duration_seconds",
			Help:    "HTTP request latency by route, method and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kyc_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, method, status).Observe(d.Seconds())
}

func (m *Metrics) TrackInFlight(delta float64) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Add(delta)
}
