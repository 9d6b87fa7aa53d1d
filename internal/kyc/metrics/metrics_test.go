package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.IncrementSessionsStarted()
	m.RecordGSTVerification("verified", "registry")
	m.RecordGSTVerification("unknown", "")
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheMiss()
	m.RecordCacheError()
	m.RecordSubmission("accepted", "log")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GSTVerifications.WithLabelValues("verified", "registry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GSTVerifications.WithLabelValues("unknown", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GSTCacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GSTCacheLookups.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("accepted", "log")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementSessionsStarted()
		m.RecordGSTVerification("verified", "format")
		m.RecordCacheHit()
		m.RecordCacheError()
		m.RecordSubmission("failed", "http")
	})
}
