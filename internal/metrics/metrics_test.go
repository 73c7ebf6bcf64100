package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIngest(OutcomeSuccess, time.Second)
		m.ObserveDetection("succeeded")
		m.ObserveRoomResolution("model")
		m.ObserveSearch(OutcomeSuccess, time.Second)
		m.ObserveCandidates("scene", 3)
		m.ObserveEvent("ok")
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New(DefaultConfig())

	m.ObserveIngest(OutcomeSuccess, 2*time.Second)
	m.ObserveIngest(OutcomeSuccess, time.Second)
	m.ObserveIngest(OutcomeError, time.Second)
	m.ObserveDetection("timed_out")
	m.ObserveRoomResolution("inherited")
	m.ObserveEvent("dlq")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestTotal.WithLabelValues(OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detectionTotal.WithLabelValues("timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.roomResolutions.WithLabelValues("inherited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("dlq")))
}

func TestHandler(t *testing.T) {
	m := New(DefaultConfig())
	m.ObserveSearch(OutcomeEmpty, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `roomscan_search_queries_total{outcome="empty"} 1`)
	assert.Contains(t, string(body), "roomscan_search_duration_seconds_bucket")
}
