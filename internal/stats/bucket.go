// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package stats

import (
	"github.com/DataDog/sketches-go/ddsketch"
)

const sketchRelativeAccuracy = 0.01

// GroupedStats is the per-key accumulator described in spec.md section 3.
type GroupedStats struct {
	Hits         uint64
	Errors       uint64
	Duration     uint64
	TopLevelHits uint64
	OKSummary    *ddsketch.DDSketch
	ErrorSummary *ddsketch.DDSketch
}

func newGroupedStats() *GroupedStats {
	ok, _ := ddsketch.NewDefaultDDSketch(sketchRelativeAccuracy)
	errS, _ := ddsketch.NewDefaultDDSketch(sketchRelativeAccuracy)
	return &GroupedStats{OKSummary: ok, ErrorSummary: errS}
}

// merge folds other into g element-wise, including sketch-merge.
func (g *GroupedStats) merge(other *GroupedStats) {
	g.Hits += other.Hits
	g.Errors += other.Errors
	g.Duration += other.Duration
	g.TopLevelHits += other.TopLevelHits
	_ = g.OKSummary.MergeWith(other.OKSummary)
	_ = g.ErrorSummary.MergeWith(other.ErrorSummary)
}

// Bucket stores a hashmap from OwnedAggregationKey to GroupedStats, for a
// fixed-width window starting at StartNs.
type Bucket struct {
	StartNs uint64
	groups  map[string]*group
}

type group struct {
	key   OwnedAggregationKey
	stats *GroupedStats
}

// NewBucket creates an empty bucket starting at startNs.
func NewBucket(startNs uint64) *Bucket {
	return &Bucket{StartNs: startNs, groups: make(map[string]*group)}
}

// Insert looks up borrowed (by equivalence against the owned keys already
// present), materializing an owned clone on miss, and folds in one
// observation.
func (b *Bucket) Insert(borrowed BorrowedAggregationKey, durationNs uint64, isError, isTopLevel bool) {
	ck := AggregationKey(borrowed).cacheKey()
	g, ok := b.groups[ck]
	if !ok {
		g = &group{key: borrowed.ToOwned(), stats: newGroupedStats()}
		b.groups[ck] = g
	}
	g.stats.Hits++
	g.stats.Duration += durationNs
	if isError {
		g.stats.Errors++
	}
	if isTopLevel {
		g.stats.TopLevelHits++
	}
	if isError {
		_ = g.stats.ErrorSummary.Add(float64(durationNs))
	} else {
		_ = g.stats.OKSummary.Add(float64(durationNs))
	}
}

// ClientGroupedStats is the flushed, wire-shaped form of one group.
type ClientGroupedStats struct {
	Key          OwnedAggregationKey
	Hits         uint64
	Errors       uint64
	Duration     uint64
	TopLevelHits uint64
	OKSummary    []byte
	ErrorSummary []byte
	PeerTagsKV   []string // "k:v" flattened
	IsTraceRoot  Trilean
}

// ClientStatsBucket is the flushed wire-shaped bucket.
type ClientStatsBucket struct {
	Start    uint64
	Duration uint64
	Stats    []ClientGroupedStats
}

// Flush consumes b, encoding sketches and back-translating each key.
func (b *Bucket) Flush(bucketWidth uint64) ClientStatsBucket {
	out := ClientStatsBucket{Start: b.StartNs, Duration: bucketWidth}
	for _, g := range b.groups {
		var okBuf, errBuf []byte
		g.stats.OKSummary.Encode(&okBuf, false)
		g.stats.ErrorSummary.Encode(&errBuf, false)
		out.Stats = append(out.Stats, ClientGroupedStats{
			Key:          g.key,
			Hits:         g.stats.Hits,
			Errors:       g.stats.Errors,
			Duration:     g.stats.Duration,
			TopLevelHits: g.stats.TopLevelHits,
			OKSummary:    okBuf,
			ErrorSummary: errBuf,
			PeerTagsKV:   g.key.PeerTags,
			IsTraceRoot:  g.key.IsTraceRoot,
		})
	}
	b.groups = nil
	return out
}
