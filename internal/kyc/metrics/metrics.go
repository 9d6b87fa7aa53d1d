package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the KYC form module.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsStarted  prometheus.Counter
	GSTVerifications *prometheus.CounterVec
	GSTCacheLookups  *prometheus.CounterVec
	Submissions      *prometheus.CounterVec
	SinkDuration     *prometheus.HistogramVec
}

// New creates a Metrics instance registered with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers against reg. Tests pass a fresh registry so
// repeated construction does not panic on duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "kyc_sessions_started_total",
			Help: "Total number of KYC form sessions started",
		}),
		GSTVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_gst_verifications_total",
			Help: "GST verification outcomes by status and source",
		}, []string{"status", "source"}),
		GSTCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_gst_cache_lookups_total",
			Help: "GST verification cache lookups by result",
		}, []string{"result"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_submissions_total",
			Help: "Submit attempts by outcome and sink",
		}, []string{"outcome", "sink"}),
		SinkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_sink_delivery_duration_seconds",
			Help:    "Duration of submission sink deliveries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"sink"}),
	}
}

func (m *Metrics) IncrementSessionsStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordGSTVerification counts one verification outcome.
func (m *Metrics) RecordGSTVerification(status, source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "none"
	}
	m.GSTVerifications.WithLabelValues(status, source).Inc()
}

func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.GSTCacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.GSTCacheLookups.WithLabelValues("miss").Inc()
}

// RecordCacheError counts cache reads or writes that failed.
func (m *Metrics) RecordCacheError() {
	if m == nil {
		return
	}
	m.GSTCacheLookups.WithLabelValues("error").Inc()
}

// RecordSubmission counts a submit attempt by outcome label, such as accepted
// or duplicate.
func (m *Metrics) RecordSubmission(outcome, sink string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome, sink).Inc()
}

// ObserveSinkDelivery records the duration of a sink delivery.
// Call with time.Now() at the start of the delivery.
func (m *Metrics) ObserveSinkDelivery(sink string, start time.Time) {
	if m == nil {
		return
	}
	m.SinkDuration.WithLabelValues(sink).Observe(time.Since(start).Seconds())
}
