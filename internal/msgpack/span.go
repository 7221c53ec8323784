// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package msgpack implements the MessagePack wire codec for trace
// payloads: v04 (array-of-arrays of span maps) and v05 (shared string
// dictionary plus fixed-size span tuples). Span decoding never allocates
// more than necessary for the requested ownership mode: the zero-copy
// entry points return spans whose strings alias the input buffer, while
// the owned entry points copy into fresh strings.
package msgpack

// Span is the wire-level representation of a span. TraceID is split into
// Lower (the msgpack "trace_id" field, the historical 64-bit id) and
// Upper (reconstructed from the "_dd.p.tid" meta hex tag, per the real
// 128-bit trace id extension); see DESIGN.md for this Open Question
// resolution.
type Span struct {
	Service    string
	Name       string
	Resource   string
	Type       string
	TraceIDLower uint64
	TraceIDUpper uint64
	SpanID     uint64
	ParentID   uint64
	Start      int64
	Duration   int64
	Error      int32
	Meta       map[string]string
	Metrics    map[string]float64
	MetaStruct map[string][]byte
	SpanLinks  []SpanLink
	SpanEvents []SpanEvent
}

// SpanLink is an ordered, caller-opaque link to another span.
type SpanLink struct {
	TraceIDLower uint64
	TraceIDUpper uint64
	SpanID       uint64
	Attributes   map[string]string
	Tracestate   string
	Flags        uint32
}

// SpanEvent is an ordered, caller-opaque event recorded on a span.
type SpanEvent struct {
	TimeUnixNano uint64
	Name         string
	Attributes   map[string]string
}

// field keys recognized inside a v04 span map; any other key is skipped.
const (
	keyService    = "service"
	keyName       = "name"
	keyResource   = "resource"
	keyTraceID    = "trace_id"
	keySpanID     = "span_id"
	keyParentID   = "parent_id"
	keyStart      = "start"
	keyDuration   = "duration"
	keyError      = "error"
	keyMeta       = "meta"
	keyMetrics    = "metrics"
	keyType       = "type"
	keyMetaStruct = "meta_struct"
	keySpanLinks  = "span_links"
	keySpanEvents = "span_events"
)
