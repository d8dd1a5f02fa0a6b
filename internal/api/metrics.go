package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries the service counters. All are labeled by outcome so
// degradation is visible without log scraping.
type Metrics struct {
	registry *prometheus.Registry

	Questions      *prometheus.CounterVec
	IngestDuration *prometheus.HistogramVec
	Evictions      prometheus.Counter
}

// NewMetrics creates and registers the service metrics on a private
// registry, keeping the endpoint free of default collector noise from
// other code sharing the process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_questions_total",
			Help: "Questions answered, by answer mode.",
		}, []string{"mode"}),
		IngestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docqa_ingest_duration_seconds",
			Help:    "Document ingestion duration, by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"outcome"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docqa_documents_evicted_total",
			Help: "Documents removed by TTL, capacity, or explicit delete.",
		}),
	}
	reg.MustRegister(m.Questions, m.IngestDuration, m.Evictions)
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIngest records one ingestion run.
func (m *Metrics) ObserveIngest(d time.Duration, outcome string) {
	m.IngestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
