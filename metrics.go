package shellac

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes a RunEnv's counters as Prometheus metrics.
type MetricsCollector struct {
	env *RunEnv

	lookups       *prometheus.Desc
	bloomFiltered *prometheus.Desc
	pagesRead     *prometheus.Desc
	steps         *prometheus.Desc
	bloomBytes    *prometheus.Desc
}

var _ prometheus.Collector = (*MetricsCollector)(nil)

// NewMetricsCollector builds a collector for env.
func NewMetricsCollector(env *RunEnv) *MetricsCollector {
	return &MetricsCollector{
		env: env,
		lookups: prometheus.NewDesc(
			"shellac_run_lookups_total",
			"Iterator seeks against run slices.",
			nil, nil),
		bloomFiltered: prometheus.NewDesc(
			"shellac_run_bloom_filtered_total",
			"Point lookups rejected by a run's bloom filter.",
			nil, nil),
		pagesRead: prometheus.NewDesc(
			"shellac_run_pages_read_total",
			"Run pages materialised from disk.",
			nil, nil),
		steps: prometheus.NewDesc(
			"shellac_run_iterator_steps_total",
			"Position advances across run iterators.",
			nil, nil),
		bloomBytes: prometheus.NewDesc(
			"shellac_run_bloom_bytes",
			"Memory held by loaded bloom filters.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lookups
	ch <- c.bloomFiltered
	ch <- c.pagesRead
	ch <- c.steps
	ch <- c.bloomBytes
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.env.Stats()
	ch <- prometheus.MustNewConstMetric(c.lookups,
		prometheus.CounterValue, float64(s.Lookups.Load()))
	ch <- prometheus.MustNewConstMetric(c.bloomFiltered,
		prometheus.CounterValue, float64(s.BloomFiltered.Load()))
	ch <- prometheus.MustNewConstMetric(c.pagesRead,
		prometheus.CounterValue, float64(s.PagesRead.Load()))
	ch <- prometheus.MustNewConstMetric(c.steps,
		prometheus.CounterValue, float64(s.Steps.Load()))
	ch <- prometheus.MustNewConstMetric(c.bloomBytes,
		prometheus.GaugeValue, float64(s.BloomBytes.Load()))
}
