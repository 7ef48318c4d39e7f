// Package metrics holds the Prometheus collectors for the whisper server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several servers can coexist in one process.
type Metrics struct {
	reg *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SearchDuration  prometheus.Histogram
	Whispers        *prometheus.CounterVec
	Embeddings      *prometheus.CounterVec
	Purged          prometheus.Counter
	PushSent        *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aangan_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aangan_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aangan_search_duration_seconds",
			Help:    "Similarity query latency.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		Whispers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aangan_whispers_total",
			Help: "Whisper lifecycle events.",
		}, []string{"event"}),
		Embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aangan_embeddings_total",
			Help: "Background embedding outcomes.",
		}, []string{"outcome"}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aangan_whispers_purged_total",
			Help: "Expired whispers physically deleted.",
		}),
		PushSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aangan_push_messages_total",
			Help: "Push broadcasts by outcome.",
		}, []string{"outcome"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.RequestDuration, m.SearchDuration,
		m.Whispers, m.Embeddings, m.Purged, m.PushSent,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveSearch records the time since start.
func (m *Metrics) ObserveSearch(start time.Time) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(time.Since(start).Seconds())
}

// Whisper counts a lifecycle event such as "created" or "deleted".
func (m *Metrics) Whisper(event string) {
	if m == nil {
		return
	}
	m.Whispers.WithLabelValues(event).Inc()
}

// Embedding counts a background embedding outcome.
func (m *Metrics) Embedding(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Embeddings.WithLabelValues(outcome).Inc()
}

// Push counts a broadcast outcome.
func (m *Metrics) Push(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.PushSent.WithLabelValues(outcome).Inc()
}

// AddPurged counts physically removed whispers.
func (m *Metrics) AddPurged(n int) {
	if m == nil {
		return
	}
	m.Purged.Add(float64(n))
}
