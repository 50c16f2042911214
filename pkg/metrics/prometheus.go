package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-agent/nexus/pkg/models"
)

var (
	callsDesc = prometheus.NewDesc(
		"nexus_backend_calls_total",
		"Total number of backend attempts",
		[]string{"backend", "outcome"}, nil,
	)
	latencyDesc = prometheus.NewDesc(
		"nexus_backend_latency_seconds_total",
		"Accumulated backend attempt latency in seconds",
		[]string{"backend"}, nil,
	)
	cacheHitsDesc = prometheus.NewDesc(
		"nexus_cache_hits_total", "Total number of response cache hits", nil, nil,
	)
	cacheMissesDesc = prometheus.NewDesc(
		"nexus_cache_misses_total", "Total number of response cache misses", nil, nil,
	)
	cacheEvictionsDesc = prometheus.NewDesc(
		"nexus_cache_evictions_total", "Total number of capacity evictions", nil, nil,
	)
	cacheEntriesDesc = prometheus.NewDesc(
		"nexus_cache_entries", "Number of entries held by the response cache", nil, nil,
	)
)

// Exporter exposes a Collector (and optionally cache stats) to Prometheus.
// Values are read at scrape time.
type Exporter struct {
	collector  *Collector
	cacheStats func() models.CacheStats
}

// NewExporter wraps c. cacheStats may be nil.
func NewExporter(c *Collector, cacheStats func() models.CacheStats) *Exporter {
	return &Exporter{collector: c, cacheStats: cacheStats}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- callsDesc
	ch <- latencyDesc
	if e.cacheStats != nil {
		ch <- cacheHitsDesc
		ch <- cacheMissesDesc
		ch <- cacheEvictionsDesc
		ch <- cacheEntriesDesc
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, name := range e.collector.Names() {
		_, success, failure, latency := e.collector.snapshot(name)
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(success), name, Success.String())
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(failure), name, Failure.String())
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.CounterValue, latency.Seconds(), name)
	}

	if e.cacheStats == nil {
		return
	}
	s := e.cacheStats()
	ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(cacheEvictionsDesc, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(s.Entries))
}

// NewRegistry returns a private registry holding the exporter plus the Go
// runtime and process collectors.
func NewRegistry(e *Exporter) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		e,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
