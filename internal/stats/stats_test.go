// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package stats

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/libdatadog-sub002/internal/msgpack"
)

func TestKeyHashEquivalence(t *testing.T) {
	s := &msgpack.Span{Resource: "GET /", Service: "web", Name: "http.request"}
	borrowed := NewBorrowedAggregationKey(s, true, nil)
	owned := borrowed.ToOwned()
	assert.Equal(t, owned.Hash(), borrowed.Hash())
	assert.True(t, borrowed.Equivalent(owned))
}

func TestInsertOrderIndependence(t *testing.T) {
	spans := []*msgpack.Span{
		{Resource: "GET /", Service: "web", Name: "http.request"},
		{Resource: "GET /", Service: "web", Name: "http.request"},
		{Resource: "POST /", Service: "web", Name: "http.request"},
	}
	observations := []struct {
		idx      int
		duration uint64
		isError  bool
	}{
		{0, 100, false},
		{1, 200, true},
		{2, 50, false},
	}

	runOnce := func(order []int) map[string]uint64 {
		b := NewBucket(0)
		for _, i := range order {
			o := observations[i]
			key := NewBorrowedAggregationKey(spans[o.idx], false, nil)
			b.Insert(key, o.duration, o.isError, false)
		}
		flushed := b.Flush(10e9)
		out := make(map[string]uint64)
		for _, g := range flushed.Stats {
			out[g.Key.Resource] += g.Hits
		}
		return out
	}

	order1 := []int{0, 1, 2}
	order2 := []int{2, 1, 0}
	assert.Equal(t, runOnce(order1), runOnce(order2))
}

func TestBucketMergesHitsErrorsDuration(t *testing.T) {
	b := NewBucket(0)
	span := &msgpack.Span{Resource: "GET /", Service: "web", Name: "http.request"}
	key := NewBorrowedAggregationKey(span, false, nil)
	b.Insert(key, 100, false, true)
	b.Insert(key, 200, true, false)

	flushed := b.Flush(10e9)
	require.Len(t, flushed.Stats, 1)
	g := flushed.Stats[0]
	assert.Equal(t, uint64(2), g.Hits)
	assert.Equal(t, uint64(1), g.Errors)
	assert.Equal(t, uint64(300), g.Duration)
	assert.Equal(t, uint64(1), g.TopLevelHits)
}

func TestPeerTagsOnlyForClientProducer(t *testing.T) {
	s := &msgpack.Span{Meta: map[string]string{"span.kind": "server", "peer.hostname": "db"}}
	k := NewBorrowedAggregationKey(s, false, []string{"peer.hostname"})
	assert.Nil(t, k.PeerTags)

	s2 := &msgpack.Span{Meta: map[string]string{"span.kind": "client", "peer.hostname": "db"}}
	k2 := NewBorrowedAggregationKey(s2, false, []string{"peer.hostname"})
	assert.Equal(t, []string{"peer.hostname:db"}, k2.PeerTags)
}

func TestMetricAggregatorDedup(t *testing.T) {
	agg := NewMetricAggregator(10)
	require.NoError(t, agg.Insert(MetricValue{Kind: MetricCount, Name: "requests", Ts: 1, Count: 1}))
	require.NoError(t, agg.Insert(MetricValue{Kind: MetricCount, Name: "requests", Ts: 1, Count: 2}))
	batches := agg.FlushSeries()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, float64(3), batches[0][0].Value)
}

func TestMetricAggregatorOverflow(t *testing.T) {
	agg := NewMetricAggregator(1)
	require.NoError(t, agg.Insert(MetricValue{Kind: MetricGauge, Name: "a", Ts: 1, Gauge: 1}))
	err := agg.Insert(MetricValue{Kind: MetricGauge, Name: "b", Ts: 1, Gauge: 1})
	require.Error(t, err)
}

func TestSeededRandomOrderInsert(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	idxs := []int{0, 1, 2, 0, 1}
	r.Shuffle(len(idxs), func(i, j int) { idxs[i], idxs[j] = idxs[j], idxs[i] })
	assert.Len(t, idxs, 5)

	spans := []*msgpack.Span{
		{Resource: "GET /", Service: "web", Name: "http.request"},
		{Resource: "POST /", Service: "web", Name: "http.request"},
		{Resource: "PUT /", Service: "web", Name: "http.request"},
	}
	b := NewBucket(0)
	for _, i := range idxs {
		b.Insert(NewBorrowedAggregationKey(spans[i], false, nil), 10, false, false)
	}
	hits := make(map[string]uint64)
	for _, g := range b.Flush(10e9).Stats {
		hits[g.Key.Resource] += g.Hits
	}
	assert.Equal(t, map[string]uint64{"GET /": 2, "POST /": 2, "PUT /": 1}, hits)
}
