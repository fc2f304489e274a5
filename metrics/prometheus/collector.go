// Package prometheus exports engine metrics through a
// prometheus.Collector built over counter snapshots.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vaultguard/vaultguard/internal/metrics"
)

// Collector adapts the engine's counter snapshots to the Prometheus
// collect model. Register it with any prometheus.Registerer; each
// scrape takes a fresh snapshot.
type Collector struct {
	snapshot func() metrics.Snapshot
	descs    [metrics.MetricIDCount]*prometheus.Desc
}

// NewCollector builds a Collector over a snapshot source, typically
// Engine.MetricsSnapshot.
func NewCollector(namespace string, snapshot func() metrics.Snapshot) *Collector {
	if namespace == "" {
		namespace = "vaultguard"
	}

	c := &Collector{snapshot: snapshot}
	for id := metrics.MetricID(0); id < metrics.MetricIDCount; id++ {
		c.descs[id] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "auth", id.Name()+"_total"),
			"Cumulative count of "+id.Name()+" events.",
			nil, nil,
		)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.snapshot == nil {
		return
	}
	snap := c.snapshot()
	for id := metrics.MetricID(0); id < metrics.MetricIDCount; id++ {
		ch <- prometheus.MustNewConstMetric(
			c.descs[id],
			prometheus.CounterValue,
			float64(snap.Counters[id]),
		)
	}
}
