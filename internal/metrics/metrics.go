// Package metrics exports pipeline counters and latencies in Prometheus format.
//
// Every method is safe on a nil *Metrics so callers can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomscan"

// Ingestion outcomes
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeEmpty   = "empty"
)

// Metrics holds the collectors for ingestion, retrieval and the event consumer.
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal     *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	detectionTotal  *prometheus.CounterVec
	roomResolutions *prometheus.CounterVec

	searchTotal    *prometheus.CounterVec
	searchDuration prometheus.Histogram
	candidates     *prometheus.HistogramVec

	eventsTotal *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}
}

// New registers all collectors on a fresh or supplied registry.
func New(cfg Config) *Metrics {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{registry: registry}

	m.ingestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "scans_total",
		Help:      "Scans processed by ingestion, by outcome",
	}, []string{"outcome"})

	m.ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "duration_seconds",
		Help:      "End-to-end ingestion latency in seconds",
		Buckets:   cfg.LatencyBuckets,
	})

	m.detectionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "detection_jobs_total",
		Help:      "Object-detection jobs by terminal state",
	}, []string{"state"})

	m.roomResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "room_resolutions_total",
		Help:      "Room labels by resolution path",
	}, []string{"path"})

	m.searchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "queries_total",
		Help:      "Search queries by outcome",
	}, []string{"outcome"})

	m.searchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "duration_seconds",
		Help:      "Search latency in seconds",
		Buckets:   cfg.LatencyBuckets,
	})

	m.candidates = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "candidates",
		Help:      "Candidates returned per retrieval stage",
		Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
	}, []string{"source"})

	m.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "messages_total",
		Help:      "Scan-created events handled by the consumer, by result",
	}, []string{"result"})

	registry.MustRegister(
		m.ingestTotal, m.ingestDuration, m.detectionTotal, m.roomResolutions,
		m.searchTotal, m.searchDuration, m.candidates,
		m.eventsTotal,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveIngest records one finished ingestion.
func (m *Metrics) ObserveIngest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDuration.Observe(d.Seconds())
}

// ObserveDetection records the terminal state of a detection job.
func (m *Metrics) ObserveDetection(state string) {
	if m == nil {
		return
	}
	m.detectionTotal.WithLabelValues(state).Inc()
}

// ObserveRoomResolution records how a room label was decided:
// "model", "inherited" or "fallback".
func (m *Metrics) ObserveRoomResolution(path string) {
	if m == nil {
		return
	}
	m.roomResolutions.WithLabelValues(path).Inc()
}

// ObserveSearch records one finished search.
func (m *Metrics) ObserveSearch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.searchTotal.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(d.Seconds())
}

// ObserveCandidates records how many candidates a retrieval stage produced.
func (m *Metrics) ObserveCandidates(source string, n int) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(source).Observe(float64(n))
}

// ObserveEvent records how the consumer handled one message.
func (m *Metrics) ObserveEvent(result string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(result).Inc()
}
