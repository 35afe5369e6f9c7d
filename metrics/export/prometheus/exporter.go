// Package prometheus exposes the engine's in-process metrics as a
// prometheus.Collector. Registering it on a registry is all the wiring an
// application needs:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(promexport.NewCollector(engine.Metrics()))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/authkeep/authkeep"
	"github.com/authkeep/authkeep/metrics/export/internaldefs"
)

type counterSlot struct {
	id   authkeep.MetricID
	desc *prometheus.Desc
}

type histogramSlot struct {
	id     authkeep.MetricID
	desc   *prometheus.Desc
	bounds []float64
}

// Collector snapshots the engine's counters on every scrape. It holds no
// state of its own, so one collector per engine is the only sane shape.
type Collector struct {
	source     *authkeep.Metrics
	counters   []counterSlot
	histograms []histogramSlot
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector over the engine's live metrics, reached
// via [authkeep.Engine.Metrics].
func NewCollector(source *authkeep.Metrics) *Collector {
	c := &Collector{source: source}

	for _, def := range internaldefs.CounterDefs() {
		c.counters = append(c.counters, counterSlot{
			id:   def.ID,
			desc: prometheus.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	for _, def := range internaldefs.HistogramDefs() {
		bounds := make([]float64, len(def.Bounds))
		for i, b := range def.Bounds {
			bounds[i] = b.Seconds()
		}
		c.histograms = append(c.histograms, histogramSlot{
			id:     def.ID,
			desc:   prometheus.NewDesc(def.Name, def.Help, nil, nil),
			bounds: bounds,
		})
	}

	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, slot := range c.counters {
		ch <- slot.desc
	}
	for _, slot := range c.histograms {
		ch <- slot.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	for _, slot := range c.counters {
		ch <- prometheus.MustNewConstMetric(slot.desc, prometheus.CounterValue, float64(snap.Counters[slot.id]))
	}

	for _, slot := range c.histograms {
		counts, ok := snap.Histograms[slot.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(counts)

		buckets := make(map[float64]uint64, len(slot.bounds))
		var sum float64
		for i, bound := range slot.bounds {
			buckets[bound] = cumulative[i]
			sum += float64(counts[i]) * bound
		}
		total := cumulative[len(cumulative)-1]

		// The engine tracks bucket counts only; the sum is approximated
		// from bucket upper bounds.
		ch <- prometheus.MustNewConstHistogram(slot.desc, total, sum, buckets)
	}
}
