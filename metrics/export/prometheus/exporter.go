// Package prometheus exposes engine counters as a Prometheus
// collector, for registration alongside whatever else the embedding
// process exports.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/auxmon/authcore/metrics"
)

// Source is anything that can snapshot counter values. Satisfied by
// *metrics.Metrics and by the engine itself.
type Source interface {
	Snapshot() map[metrics.ID]uint64
}

// Collector adapts a Source to prometheus.Collector. Values are read at
// scrape time; nothing is cached between scrapes.
type Collector struct {
	source Source
	descs  map[metrics.ID]*prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector over the given source.
func NewCollector(source Source) *Collector {
	descs := make(map[metrics.ID]*prometheus.Desc, len(metrics.CounterDefs))
	for _, def := range metrics.CounterDefs {
		descs[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return &Collector{source: source, descs: descs}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.descs {
		ch <- desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()
	for _, def := range metrics.CounterDefs {
		ch <- prometheus.MustNewConstMetric(
			c.descs[def.ID], prometheus.CounterValue, float64(snap[def.ID]))
	}
}
