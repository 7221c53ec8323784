// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/libdatadog-sub002/internal/msgpack"
)

func TestNormalizeZeroTraceID(t *testing.T) {
	s := &msgpack.Span{TraceIDLower: 0, SpanID: 1, Name: "n"}
	err := NormalizeSpan(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TraceID is zero")
}

func TestNormalizeEmptyName(t *testing.T) {
	s := &msgpack.Span{Name: "", TraceIDLower: 1, SpanID: 1}
	require.NoError(t, NormalizeSpan(s))
	assert.Equal(t, "unnamed_operation", s.Name)
}

func TestNormalizeSpanIdempotent(t *testing.T) {
	s := &msgpack.Span{Name: "My-Op", Service: "SVC", TraceIDLower: 1, SpanID: 1, Duration: -5, Start: -1}
	require.NoError(t, NormalizeSpan(s))
	first := *s
	require.NoError(t, NormalizeSpan(s))
	assert.Equal(t, first.Name, s.Name)
	assert.Equal(t, first.Service, s.Service)
	assert.Equal(t, first.Duration, s.Duration)
}

func TestNormalizeNegativeDurationCoercedToZero(t *testing.T) {
	s := &msgpack.Span{Name: "op", TraceIDLower: 1, SpanID: 1, Duration: -100}
	require.NoError(t, NormalizeSpan(s))
	assert.Equal(t, int64(0), s.Duration)
}

func TestNormalizeResourceDefaultsToName(t *testing.T) {
	s := &msgpack.Span{Name: "op", TraceIDLower: 1, SpanID: 1}
	require.NoError(t, NormalizeSpan(s))
	assert.Equal(t, "op", s.Resource)
}

func TestNormalizeZipkinRootQuirk(t *testing.T) {
	s := &msgpack.Span{Name: "op", TraceIDLower: 1, SpanID: 5, ParentID: 5}
	require.NoError(t, NormalizeSpan(s))
	assert.Equal(t, uint64(0), s.ParentID)
}

func TestNormalizeTraceForeignSpan(t *testing.T) {
	trace := []*msgpack.Span{
		{Name: "a", TraceIDLower: 1, SpanID: 1},
		{Name: "b", TraceIDLower: 2, SpanID: 2},
	}
	err := NormalizeTrace(trace)
	require.Error(t, err)
}

func TestNormalizeTraceEmpty(t *testing.T) {
	err := NormalizeTrace(nil)
	require.Error(t, err)
}

func TestNormalizeChunkFillsPriorityAndOrigin(t *testing.T) {
	root := &msgpack.Span{
		Name: "op", TraceIDLower: 1, SpanID: 1,
		Metrics: map[string]float64{"_sampling_priority_v1": 2},
		Meta:    map[string]string{"_dd.origin": "rum"},
	}
	c := &Chunk{Spans: []*msgpack.Span{root}, PriorityNone: true}
	require.NoError(t, NormalizeChunk(c, 0))
	assert.Equal(t, int32(2), c.Priority)
	assert.Equal(t, "rum", c.Origin)
}

func TestNormalizeChunkInvalidRootIndex(t *testing.T) {
	c := &Chunk{Spans: []*msgpack.Span{{Name: "op", TraceIDLower: 1, SpanID: 1}}}
	err := NormalizeChunk(c, 5)
	require.Error(t, err)
}

func TestNormalizeHTTPStatusCode(t *testing.T) {
	s := &msgpack.Span{Name: "op", TraceIDLower: 1, SpanID: 1, Meta: map[string]string{"http.status_code": "bogus"}}
	require.NoError(t, NormalizeSpan(s))
	_, ok := s.Meta["http.status_code"]
	assert.False(t, ok)
}
