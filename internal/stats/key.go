// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package stats implements the aggregator/stats-bucket component (C4):
// grouping spans into time buckets keyed on an aggregation key, and a
// dogstatsd-style metric aggregator deduplicating points by
// (name, tags, timestamp).
package stats

import (
	"sort"
	"strconv"
	"strings"

	"github.com/DataDog/libdatadog-sub002/internal/msgpack"
)

// Trilean models is_trace_root: unset/true/false, since a borrowed span
// view may not always know the answer.
type Trilean int8

const (
	TrileanUnset Trilean = iota
	TrileanTrue
	TrileanFalse
)

// AggregationKey is the tuple spec.md defines for stats grouping. In Go,
// a "borrowed" key and an "owned" key are the same shape: strings are
// already immutable, reference-counted-by-the-runtime values, so slicing
// a span's Service/Resource/etc. into this struct allocates nothing.
// BorrowedAggregationKey and OwnedAggregationKey are kept as distinct
// names (rather than collapsed into one type) purely to mirror the
// lookup-vs-insert distinction the spec calls out; ToOwned makes that
// distinction explicit at call sites and copies PeerTags into a fresh
// slice, so an owned key never shares its backing array with the
// borrowed one.
type AggregationKey struct {
	Resource        string
	Service         string
	Operation       string
	SpanType        string
	SpanKind        string
	HTTPStatusCode  uint32
	IsSynthetics    bool
	PeerTags        []string
	IsTraceRoot     Trilean
	HTTPMethod      string
	HTTPEndpoint    string
}

// BorrowedAggregationKey is produced at lookup time from a span the
// bucket does not own.
type BorrowedAggregationKey AggregationKey

// OwnedAggregationKey is materialized only on insert.
type OwnedAggregationKey AggregationKey

// ToOwned clones b into an OwnedAggregationKey for insertion.
func (b BorrowedAggregationKey) ToOwned() OwnedAggregationKey {
	peerTags := make([]string, len(b.PeerTags))
	copy(peerTags, b.PeerTags)
	o := OwnedAggregationKey(b)
	o.PeerTags = peerTags
	return o
}

// cacheKey returns the canonical string both the hash and the bucket's
// backing map key are derived from, guaranteeing that hash(b) ==
// hash(OwnedAggregationKey(b)) and that the two compare equivalent.
func (k AggregationKey) cacheKey() string {
	var b strings.Builder
	b.WriteString(k.Resource)
	b.WriteByte(0)
	b.WriteString(k.Service)
	b.WriteByte(0)
	b.WriteString(k.Operation)
	b.WriteByte(0)
	b.WriteString(k.SpanType)
	b.WriteByte(0)
	b.WriteString(k.SpanKind)
	b.WriteByte(0)
	b.WriteString(strconv.FormatUint(uint64(k.HTTPStatusCode), 10))
	b.WriteByte(0)
	if k.IsSynthetics {
		b.WriteByte(1)
	}
	b.WriteByte(0)
	for _, t := range k.PeerTags {
		b.WriteString(t)
		b.WriteByte(',')
	}
	b.WriteByte(0)
	b.WriteByte(byte(k.IsTraceRoot))
	b.WriteByte(0)
	b.WriteString(k.HTTPMethod)
	b.WriteByte(0)
	b.WriteString(k.HTTPEndpoint)
	return b.String()
}

// Hash returns a deterministic hash over k, independent of representation.
func (k OwnedAggregationKey) Hash() uint64    { return fnv1a64(AggregationKey(k).cacheKey()) }
func (b BorrowedAggregationKey) Hash() uint64 { return fnv1a64(AggregationKey(b).cacheKey()) }

// Equivalent reports whether b and o represent the same group.
func (b BorrowedAggregationKey) Equivalent(o OwnedAggregationKey) bool {
	return AggregationKey(b).cacheKey() == AggregationKey(o).cacheKey()
}

func fnv1a64(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// peerTagsAllowList filters meta keys down to a caller-provided allow-list,
// returning them sorted for a deterministic cacheKey.
func peerTagsAllowList(meta map[string]string, allow []string) []string {
	if len(allow) == 0 {
		return nil
	}
	var out []string
	for _, k := range allow {
		if v, ok := meta[k]; ok {
			out = append(out, k+":"+v)
		}
	}
	sort.Strings(out)
	return out
}

// NewBorrowedAggregationKey derives a lookup key from a normalized span,
// per spec.md section 3's AggregationKey rules.
func NewBorrowedAggregationKey(s *msgpack.Span, isTraceRoot bool, peerTagAllowList []string) BorrowedAggregationKey {
	k := BorrowedAggregationKey{
		Resource:  s.Resource,
		Service:   s.Service,
		Operation: s.Name,
		SpanType:  s.Type,
	}
	if kind, ok := s.Meta["span.kind"]; ok {
		k.SpanKind = kind
	}
	if code, ok := s.Metrics["http.status_code"]; ok {
		k.HTTPStatusCode = uint32(code)
	} else if codeStr, ok := s.Meta["http.status_code"]; ok {
		if v, err := strconv.ParseUint(codeStr, 10, 32); err == nil {
			k.HTTPStatusCode = uint32(v)
		}
	}
	if origin, ok := s.Meta["_dd.origin"]; ok {
		k.IsSynthetics = strings.HasPrefix(origin, "synthetics")
	}
	if k.SpanKind == "client" || k.SpanKind == "producer" {
		k.PeerTags = peerTagsAllowList(s.Meta, peerTagAllowList)
	}
	if isTraceRoot {
		k.IsTraceRoot = TrileanTrue
	} else {
		k.IsTraceRoot = TrileanFalse
	}
	k.HTTPMethod = s.Meta["http.method"]
	if ep, ok := s.Meta["http.endpoint"]; ok {
		k.HTTPEndpoint = ep
	} else {
		k.HTTPEndpoint = s.Meta["http.route"]
	}
	return k
}
