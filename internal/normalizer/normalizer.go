// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package normalizer enforces the span, trace, and chunk invariants
// described in spec.md section 4.3 before a trace is aggregated or sent.
package normalizer

import (
	"strings"
	"time"
	"unicode"

	"github.com/DataDog/libdatadog-sub002/internal/msgpack"
	"github.com/DataDog/libdatadog-sub002/internal/xerrors"
)

const (
	maxNameLength     = 100
	maxServiceLength  = 100
	maxTypeLength     = 100
	defaultSpanName   = "unnamed_operation"
	maxDurationNanos  = int64(10 * 365 * 24 * time.Hour) // ~10 years; unreasonably large values are dropped
)

// Chunk mirrors spec.md's trace chunk: an ordered list of spans sharing
// one trace_id plus priority/origin/dropped_trace.
type Chunk struct {
	Spans        []*msgpack.Span
	Priority     int32
	PriorityNone bool // true while Priority still holds the "None" sentinel
	Origin       string
	DroppedTrace bool
}

// now is overridable in tests.
var now = func() int64 { return time.Now().UnixNano() }

// NormalizeSpan enforces invariants on a single span in place.
func NormalizeSpan(s *msgpack.Span) error {
	if s.TraceIDLower == 0 && s.TraceIDUpper == 0 {
		return xerrors.New(xerrors.KindNormalization, "TraceID is zero")
	}
	if s.SpanID == 0 {
		return xerrors.New(xerrors.KindNormalization, "SpanID is zero")
	}

	s.Service = truncateLower(s.Service, maxServiceLength)

	if s.Name == "" || !isAlphanumericDotted(s.Name) {
		s.Name = defaultSpanName
	} else {
		s.Name = canonicalizeName(s.Name)
	}
	if len(s.Name) > maxNameLength {
		s.Name = s.Name[:maxNameLength]
	}

	if s.Resource == "" {
		s.Resource = s.Name
	}

	// Zipkin-root quirk: a parent pointing at its own trace/span id is
	// really a root; clear it so downstream root-detection is simple.
	if s.ParentID == s.SpanID || s.ParentID == s.TraceIDLower {
		s.ParentID = 0
	}

	if s.Duration < 0 || s.Duration > maxDurationNanos {
		s.Duration = 0
	}

	nowNanos := now()
	lower := nowNanos - s.Duration
	if s.Start < lower || s.Start > nowNanos {
		s.Start = nowNanos
	}

	if len(s.Type) > maxTypeLength {
		s.Type = s.Type[:maxTypeLength]
	}

	if s.Meta == nil {
		s.Meta = map[string]string{}
	}
	if env, ok := s.Meta["env"]; ok {
		s.Meta["env"] = strings.ToLower(env)
	}
	if code, ok := s.Meta["http.status_code"]; ok {
		if !isValidHTTPStatus(code) {
			delete(s.Meta, "http.status_code")
		}
	}

	return nil
}

func isValidHTTPStatus(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return code[0] != '0'
}

func isAlphanumericDotted(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func canonicalizeName(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

func truncateLower(s string, max int) string {
	s = strings.ToLower(s)
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// NormalizeTrace rejects an empty trace, verifies every span shares the
// first span's trace id, then normalizes each span in input order. A
// single bad span aborts the rest.
func NormalizeTrace(trace []*msgpack.Span) error {
	if len(trace) == 0 {
		return xerrors.New(xerrors.KindNormalization, "trace is empty")
	}
	traceIDLower := trace[0].TraceIDLower
	traceIDUpper := trace[0].TraceIDUpper
	for _, s := range trace {
		if s.TraceIDLower != traceIDLower || s.TraceIDUpper != traceIDUpper {
			return xerrors.New(xerrors.KindNormalization, "foreign span in trace")
		}
	}
	for _, s := range trace {
		if err := NormalizeSpan(s); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeChunk fills Priority from the root's _sampling_priority_v1
// metric (or any other span's) when Priority still holds the sentinel,
// and fills Origin from the root's _dd.origin meta when empty.
func NormalizeChunk(c *Chunk, rootIdx int) error {
	if rootIdx < 0 || rootIdx >= len(c.Spans) {
		return xerrors.New(xerrors.KindNormalization, "invalid root index")
	}
	if c.PriorityNone {
		root := c.Spans[rootIdx]
		if p, ok := root.Metrics["_sampling_priority_v1"]; ok {
			c.Priority = int32(p)
			c.PriorityNone = false
		} else {
			for _, s := range c.Spans {
				if p, ok := s.Metrics["_sampling_priority_v1"]; ok {
					c.Priority = int32(p)
					c.PriorityNone = false
					break
				}
			}
		}
	}
	if c.Origin == "" {
		if origin, ok := c.Spans[rootIdx].Meta["_dd.origin"]; ok {
			c.Origin = origin
		}
	}
	return nil
}
