// Package metrics exposes prometheus collectors for catalog calls and
// deliveries, and the HTTP handler that serves them.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "testbookbot"

// Metrics owns a private registry so that tests can build as many as they
// like.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	extractions *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	bulkJobs    *prometheus.CounterVec
	bulkActive  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Catalog API round trips by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_request_duration_seconds",
			Help:      "Catalog API round trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Question set extractions by outcome.",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Documents sent by format and outcome.",
		}, []string{"format", "outcome"}),
		bulkJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_jobs_total",
			Help:      "Finished bulk jobs by outcome.",
		}, []string{"outcome"}),
		bulkActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bulk_jobs_active",
			Help:      "Bulk jobs currently running.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latency, m.extractions, m.deliveries, m.bulkJobs, m.bulkActive,
	)
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRequest satisfies testbook.Observer.
func (m *Metrics) ObserveRequest(endpoint string, elapsed time.Duration, err error) {
	m.requests.WithLabelValues(endpoint, outcome(err)).Inc()
	m.latency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) Extraction(err error) {
	m.extractions.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) Delivery(format string, err error) {
	m.deliveries.WithLabelValues(format, outcome(err)).Inc()
}

// BulkStarted marks a job as running; the returned func records its end.
func (m *Metrics) BulkStarted() func(result string) {
	m.bulkActive.Inc()
	return func(result string) {
		m.bulkActive.Dec()
		m.bulkJobs.WithLabelValues(result).Inc()
	}
}

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return r
}
