// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package stats

import (
	"sort"
	"strings"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/DataDog/libdatadog-sub002/internal/log"
	"github.com/DataDog/libdatadog-sub002/internal/xerrors"
)

// MetricKind discriminates the three dogstatsd metric shapes this
// aggregator deduplicates.
type MetricKind int

const (
	MetricCount MetricKind = iota
	MetricGauge
	MetricDistribution
)

// MetricValue is folded in place as new points for the same identity
// arrive: counts add, gauges overwrite, distributions merge sketches.
type MetricValue struct {
	Kind   MetricKind
	Name   string
	Tags   []string
	Ts     int64
	Count  float64
	Gauge  float64
	Sketch *ddsketch.DDSketch
}

func (v *MetricValue) fold(n MetricValue) {
	switch v.Kind {
	case MetricCount:
		v.Count += n.Count
	case MetricGauge:
		v.Gauge = n.Gauge
	case MetricDistribution:
		_ = v.Sketch.MergeWith(n.Sketch)
	}
}

func metricID(name string, tags []string, ts int64) string {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(0)
	b.WriteString(strings.Join(sorted, ","))
	b.WriteByte(0)
	b.WriteString(itoa(ts))
	return b.String()
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// MetricAggregator deduplicates metric points by (name, tags, timestamp),
// bounded by a max-context cap.
type MetricAggregator struct {
	maxContext int
	values     map[string]*MetricValue
}

// NewMetricAggregator creates an aggregator that rejects inserts once
// maxContext distinct (name, tags, timestamp) identities are held.
func NewMetricAggregator(maxContext int) *MetricAggregator {
	return &MetricAggregator{maxContext: maxContext, values: make(map[string]*MetricValue)}
}

// Insert folds v into the aggregator. On miss, bounded by maxContext, a
// fresh entry is created; beyond the cap, InsertOverflow is returned and
// the aggregator remains consistent (the new point is simply dropped).
func (a *MetricAggregator) Insert(v MetricValue) error {
	id := metricID(v.Name, v.Tags, v.Ts)
	if existing, ok := a.values[id]; ok {
		existing.fold(v)
		return nil
	}
	if len(a.values) >= a.maxContext {
		return xerrors.New(xerrors.KindInsertOverflow, "metric aggregator above max_context")
	}
	cp := v
	a.values[id] = &cp
	return nil
}

// SeriesPoint is one flushed count/gauge point.
type SeriesPoint struct {
	Name  string
	Tags  []string
	Ts    int64
	Value float64
}

// SketchPoint is one flushed distribution point.
type SketchPoint struct {
	Name   string
	Tags   []string
	Ts     int64
	Sketch []byte
}

const (
	maxBatchEntries = 10000
	maxBatchBytes   = 3 * 1024 * 1024 // 3 MiB, matching the agent intake's practical cap
)

// FlushSeries drains count/gauge points into size- and count-bounded
// batches. An entry whose own serialized size exceeds maxBatchBytes is
// emitted alone (never silently dropped) in a batch of length 1, and a
// warning naming the metric is logged.
func (a *MetricAggregator) FlushSeries() [][]SeriesPoint {
	var points []SeriesPoint
	for id, v := range a.values {
		if v.Kind == MetricDistribution {
			continue
		}
		val := v.Gauge
		if v.Kind == MetricCount {
			val = v.Count
		}
		points = append(points, SeriesPoint{Name: v.Name, Tags: v.Tags, Ts: v.Ts, Value: val})
		delete(a.values, id)
	}
	return batchSeries(points)
}

// FlushSketches drains distribution points the same way.
func (a *MetricAggregator) FlushSketches() [][]SketchPoint {
	var points []SketchPoint
	for id, v := range a.values {
		if v.Kind != MetricDistribution {
			continue
		}
		var buf []byte
		v.Sketch.Encode(&buf, false)
		points = append(points, SketchPoint{Name: v.Name, Tags: v.Tags, Ts: v.Ts, Sketch: buf})
		delete(a.values, id)
	}
	return batchSketches(points)
}

func approxSeriesSize(p SeriesPoint) int {
	n := len(p.Name) + 16
	for _, t := range p.Tags {
		n += len(t) + 1
	}
	return n
}

func batchSeries(points []SeriesPoint) [][]SeriesPoint {
	var batches [][]SeriesPoint
	var cur []SeriesPoint
	curBytes := 0
	for _, p := range points {
		sz := approxSeriesSize(p)
		if sz > maxBatchBytes {
			log.Warn("stats: series point %q exceeds the %d-byte batch cap; sending it alone", p.Name, maxBatchBytes)
			batches = append(batches, []SeriesPoint{p})
			continue
		}
		if len(cur) >= maxBatchEntries || curBytes+sz > maxBatchBytes {
			if len(cur) > 0 {
				batches = append(batches, cur)
			}
			cur = nil
			curBytes = 0
		}
		cur = append(cur, p)
		curBytes += sz
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func approxSketchSize(p SketchPoint) int {
	n := len(p.Name) + 16 + len(p.Sketch)
	for _, t := range p.Tags {
		n += len(t) + 1
	}
	return n
}

func batchSketches(points []SketchPoint) [][]SketchPoint {
	var batches [][]SketchPoint
	var cur []SketchPoint
	curBytes := 0
	for _, p := range points {
		sz := approxSketchSize(p)
		if sz > maxBatchBytes {
			log.Warn("stats: sketch point %q exceeds the %d-byte batch cap; sending it alone", p.Name, maxBatchBytes)
			batches = append(batches, []SketchPoint{p})
			continue
		}
		if len(cur) >= maxBatchEntries || curBytes+sz > maxBatchBytes {
			if len(cur) > 0 {
				batches = append(batches, cur)
			}
			cur = nil
			curBytes = 0
		}
		cur = append(cur, p)
		curBytes += sz
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
