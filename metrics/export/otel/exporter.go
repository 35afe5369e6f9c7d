// Package otel bridges the engine's in-process metrics onto an
// OpenTelemetry meter. Counters become asynchronous instruments observed at
// collection time, so the bridge adds nothing to the engine's hot paths.
package otel

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/authkeep/authkeep"
	"github.com/authkeep/authkeep/metrics/export/internaldefs"
)

type observedCounter struct {
	id         authkeep.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id         authkeep.MetricID
	instrument metric.Int64ObservableCounter
	labels     []attribute.Set
}

// Register creates observable instruments for every engine metric and wires
// a collection callback that reads the live counters. The returned
// registration unhooks the callback; the caller owns its lifecycle.
//
// Latency histograms are exported as cumulative bucket counters with an
// "le" attribute, matching the prometheus exposition shape.
func Register(meter metric.Meter, source *authkeep.Metrics) (metric.Registration, error) {
	var counters []observedCounter
	var histograms []observedHistogram
	var instruments []metric.Observable

	for _, def := range internaldefs.CounterDefs() {
		instrument, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		counters = append(counters, observedCounter{id: def.ID, instrument: instrument})
		instruments = append(instruments, instrument)
	}

	for _, def := range internaldefs.HistogramDefs() {
		instrument, err := meter.Int64ObservableCounter(
			def.Name+"_bucket",
			metric.WithDescription(def.Help),
		)
		if err != nil {
			return nil, fmt.Errorf("create histogram %s: %w", def.Name, err)
		}
		labels := make([]attribute.Set, 0, len(def.Bounds)+1)
		for _, bound := range def.Bounds {
			labels = append(labels, attribute.NewSet(
				attribute.String("le", strconv.FormatFloat(bound.Seconds(), 'g', -1, 64)),
			))
		}
		labels = append(labels, attribute.NewSet(attribute.String("le", "+Inf")))
		histograms = append(histograms, observedHistogram{id: def.ID, instrument: instrument, labels: labels})
		instruments = append(instruments, instrument)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.Snapshot()

		for _, c := range counters {
			o.ObserveInt64(c.instrument, int64(snap.Counters[c.id]))
		}

		for _, h := range histograms {
			counts, ok := snap.Histograms[h.id]
			if !ok {
				continue
			}
			cumulative := internaldefs.CumulativeBuckets(counts)
			for i, set := range h.labels {
				if i >= len(cumulative) {
					break
				}
				o.ObserveInt64(h.instrument, int64(cumulative[i]), metric.WithAttributeSet(set))
			}
		}

		return nil
	}, instruments...)
}
