// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package msgpack

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/DataDog/libdatadog-sub002/internal/xerrors"
)

// spanElemCount is the fixed number of elements in a v05 span tuple:
// service, name, resource, trace_id, span_id, parent_id, start, duration,
// error, meta, metrics, type. Adding a field means bumping this constant
// and every encoder/decoder below in lockstep.
const spanElemCount = 12

// A v05 payload is the two-element array [dictionary, traces]: a flat
// array of every string used anywhere in the payload, followed by the
// v04-shaped trace/chunk/span nesting with every string field replaced by
// a uint index into the dictionary. Index 0 is conventionally the empty
// string.

// EncodeTracesV05 appends the v05 encoding of traces to buf: a shared
// string dictionary followed by fixed-size span tuples referencing it by
// index, as opposed to v04's self-contained span maps.
func EncodeTracesV05(buf []byte, traces [][]*Span) []byte {
	dict := newV05Dict()
	dict.intern("")

	tupleTraces := make([][]v05SpanTuple, len(traces))
	for i, spans := range traces {
		tuples := make([]v05SpanTuple, len(spans))
		for j, sp := range spans {
			tuples[j] = dict.internSpan(sp)
		}
		tupleTraces[i] = tuples
	}

	buf = msgp.AppendArrayHeader(buf, 2)
	buf = msgp.AppendArrayHeader(buf, uint32(len(dict.list)))
	for _, s := range dict.list {
		buf = msgp.AppendString(buf, s)
	}
	buf = msgp.AppendArrayHeader(buf, uint32(len(tupleTraces)))
	for _, tuples := range tupleTraces {
		buf = msgp.AppendArrayHeader(buf, uint32(len(tuples)))
		for _, t := range tuples {
			buf = t.encode(buf)
		}
	}
	return buf
}

// v05Dict accumulates the shared string dictionary an encode pass builds
// up before the final buffer (whose dictionary array must come first) can
// be written.
type v05Dict struct {
	index map[string]uint32
	list  []string
}

func newV05Dict() *v05Dict {
	return &v05Dict{index: make(map[string]uint32)}
}

func (d *v05Dict) intern(s string) uint32 {
	if idx, ok := d.index[s]; ok {
		return idx
	}
	idx := uint32(len(d.list))
	d.list = append(d.list, s)
	d.index[s] = idx
	return idx
}

func (d *v05Dict) internSpan(sp *Span) v05SpanTuple {
	t := v05SpanTuple{
		service:  d.intern(sp.Service),
		name:     d.intern(sp.Name),
		resource: d.intern(sp.Resource),
		traceID:  sp.TraceIDLower,
		spanID:   sp.SpanID,
		parentID: sp.ParentID,
		start:    sp.Start,
		duration: sp.Duration,
		errField: sp.Error,
		typ:      d.intern(sp.Type),
	}
	if len(sp.Meta) > 0 {
		t.meta = make(map[uint32]uint32, len(sp.Meta))
		for k, v := range sp.Meta {
			t.meta[d.intern(k)] = d.intern(v)
		}
	}
	if len(sp.Metrics) > 0 {
		t.metrics = make(map[uint32]float64, len(sp.Metrics))
		for k, v := range sp.Metrics {
			t.metrics[d.intern(k)] = v
		}
	}
	return t
}

// v05SpanTuple is a span with every string field resolved to a dictionary
// index, ready to be written as a fixed spanElemCount-length array.
type v05SpanTuple struct {
	service, name, resource, typ uint32
	traceID, spanID, parentID    uint64
	start, duration              int64
	errField                     int32
	meta                         map[uint32]uint32
	metrics                      map[uint32]float64
}

func (t v05SpanTuple) encode(buf []byte) []byte {
	buf = msgp.AppendArrayHeader(buf, spanElemCount)
	buf = msgp.AppendUint32(buf, t.service)
	buf = msgp.AppendUint32(buf, t.name)
	buf = msgp.AppendUint32(buf, t.resource)
	buf = msgp.AppendUint64(buf, t.traceID)
	buf = msgp.AppendUint64(buf, t.spanID)
	buf = msgp.AppendUint64(buf, t.parentID)
	buf = msgp.AppendInt64(buf, t.start)
	buf = msgp.AppendInt64(buf, t.duration)
	buf = msgp.AppendInt32(buf, t.errField)
	buf = msgp.AppendMapHeader(buf, uint32(len(t.meta)))
	for k, v := range t.meta {
		buf = msgp.AppendUint32(buf, k)
		buf = msgp.AppendUint32(buf, v)
	}
	buf = msgp.AppendMapHeader(buf, uint32(len(t.metrics)))
	for k, v := range t.metrics {
		buf = msgp.AppendUint32(buf, k)
		buf = msgp.AppendFloat64(buf, v)
	}
	buf = msgp.AppendUint32(buf, t.typ)
	return buf
}

// DecodeTracesV05ZC decodes a v05 payload (shared string dictionary plus
// fixed-size span tuples) with zero-copy dictionary strings aliasing buf.
// Every Span string field is resolved against the dictionary before
// returning, so the zero-copy/owned distinction here only concerns the
// dictionary's own backing storage.
func DecodeTracesV05ZC(buf []byte) (traces [][]*Span, consumed int, err error) {
	return decodeTracesV05(buf, zeroCopyString)
}

// DecodeTracesV05 decodes a v05 payload into spans with owned (copied)
// strings, safe to retain beyond buf's lifetime.
func DecodeTracesV05(buf []byte) (traces [][]*Span, consumed int, err error) {
	return decodeTracesV05(buf, ownedString)
}

func decodeTracesV05(buf []byte, rs stringReader) ([][]*Span, int, error) {
	orig := buf
	n, rest, err := msgp.ReadArrayHeaderBytes(buf)
	if err != nil {
		return nil, 0, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	if n != 2 {
		return nil, 0, xerrors.NewDecode(xerrors.DecodeInvalidFormat, "v05 payload must be a 2-element array")
	}

	dict, rest, err := decodeV05Dict(rest, rs)
	if err != nil {
		return nil, 0, err
	}

	numTraces, rest, err := msgp.ReadArrayHeaderBytes(rest)
	if err != nil {
		return nil, 0, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	traces := make([][]*Span, 0, numTraces)
	for i := uint32(0); i < numTraces; i++ {
		spans, o, err := decodeV05SpanArray(rest, dict)
		if err != nil {
			return nil, 0, err
		}
		traces = append(traces, spans)
		rest = o
	}
	return traces, len(orig) - len(rest), nil
}

func decodeV05Dict(b []byte, rs stringReader) ([]string, []byte, error) {
	n, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	dict := make([]string, n)
	for i := uint32(0); i < n; i++ {
		s, o, err := rs(rest)
		if err != nil {
			return nil, b, err
		}
		dict[i] = s
		rest = o
	}
	return dict, rest, nil
}

func decodeV05SpanArray(b []byte, dict []string) ([]*Span, []byte, error) {
	n, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	spans := make([]*Span, 0, n)
	for i := uint32(0); i < n; i++ {
		sp, o, err := decodeV05Span(rest, dict)
		if err != nil {
			return nil, b, err
		}
		spans = append(spans, sp)
		rest = o
	}
	return spans, rest, nil
}

func decodeV05Span(b []byte, dict []string) (*Span, []byte, error) {
	n, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	if n != spanElemCount {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, "v05 span tuple must have 12 elements")
	}

	sp := &Span{}

	sp.Service, rest, err = readDictIndex(rest, dict)
	if err != nil {
		return nil, b, err
	}
	sp.Name, rest, err = readDictIndex(rest, dict)
	if err != nil {
		return nil, b, err
	}
	sp.Resource, rest, err = readDictIndex(rest, dict)
	if err != nil {
		return nil, b, err
	}

	num, rest, err := readNumber(rest, false)
	if err != nil {
		return nil, b, err
	}
	if sp.TraceIDLower, err = num.toUint64(^uint64(0)); err != nil {
		return nil, b, err
	}

	num, rest, err = readNumber(rest, false)
	if err != nil {
		return nil, b, err
	}
	if sp.SpanID, err = num.toUint64(^uint64(0)); err != nil {
		return nil, b, err
	}

	num, rest, err = readNumber(rest, false)
	if err != nil {
		return nil, b, err
	}
	if sp.ParentID, err = num.toUint64(^uint64(0)); err != nil {
		return nil, b, err
	}

	num, rest, err = readNumber(rest, false)
	if err != nil {
		return nil, b, err
	}
	if sp.Start, err = num.toInt64(0, 1<<62); err != nil {
		return nil, b, err
	}

	num, rest, err = readNumber(rest, false)
	if err != nil {
		return nil, b, err
	}
	if sp.Duration, err = num.toInt64(0, 1<<62); err != nil {
		return nil, b, err
	}

	num, rest, err = readNumber(rest, false)
	if err != nil {
		return nil, b, err
	}
	if sp.Error, err = num.toInt32(0, 1); err != nil {
		return nil, b, err
	}

	metaLen, rest, err := msgp.ReadMapHeaderBytes(rest)
	if err != nil {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	if metaLen > 0 {
		sp.Meta = make(map[string]string, metaLen)
		for i := uint32(0); i < metaLen; i++ {
			var k, v string
			k, rest, err = readDictIndex(rest, dict)
			if err != nil {
				return nil, b, err
			}
			v, rest, err = readDictIndex(rest, dict)
			if err != nil {
				return nil, b, err
			}
			sp.Meta[k] = v
		}
		if hex, ok := sp.Meta["_dd.p.tid"]; ok {
			sp.TraceIDUpper = parseHexUint64(hex)
		}
	}

	metricsLen, rest, err := msgp.ReadMapHeaderBytes(rest)
	if err != nil {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	if metricsLen > 0 {
		sp.Metrics = make(map[string]float64, metricsLen)
		for i := uint32(0); i < metricsLen; i++ {
			var k string
			k, rest, err = readDictIndex(rest, dict)
			if err != nil {
				return nil, b, err
			}
			num, rest, err = readNumber(rest, false)
			if err != nil {
				return nil, b, err
			}
			sp.Metrics[k] = num.toFloat64()
		}
	}

	sp.Type, rest, err = readDictIndex(rest, dict)
	if err != nil {
		return nil, b, err
	}

	return sp, rest, nil
}

// readDictIndex reads one msgpack uint and resolves it against dict,
// rejecting indices outside its bounds rather than panicking on an
// out-of-range slice access.
func readDictIndex(b []byte, dict []string) (string, []byte, error) {
	num, o, err := readNumber(b, false)
	if err != nil {
		return "", b, err
	}
	idx, err := num.toUint64(^uint64(0))
	if err != nil {
		return "", b, err
	}
	if idx >= uint64(len(dict)) {
		return "", b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, "v05 dictionary index out of range")
	}
	return dict[idx], o, nil
}
