// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package msgpack

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/DataDog/libdatadog-sub002/internal/xerrors"
)

// stringReader abstracts the zero-copy (msgp.ReadStringZC, string aliases
// the input buffer) vs owned (msgp.ReadStringBytes, string is a fresh
// copy) decode paths. Both entry points below share every other byte of
// decode logic.
type stringReader func(b []byte) (string, []byte, error)

func zeroCopyString(b []byte) (string, []byte, error) {
	bts, o, err := msgp.ReadStringZC(b)
	if err != nil {
		return "", b, wrapIOErr(err)
	}
	return msgp.UnsafeString(bts), o, nil
}

func ownedString(b []byte) (string, []byte, error) {
	s, o, err := msgp.ReadStringBytes(b)
	if err != nil {
		return "", b, wrapIOErr(err)
	}
	return s, o, nil
}

// DecodeTracesZC decodes a v04 payload (array of traces, each an array of
// span maps) with zero-copy string slices aliasing buf. Returned spans'
// strings are only valid as long as buf is not modified or freed. Returns
// the number of bytes consumed so callers can stream multiple payloads.
func DecodeTracesZC(buf []byte) (traces [][]*Span, consumed int, err error) {
	return decodeTraces(buf, zeroCopyString)
}

// DecodeTraces decodes a v04 payload into spans with owned (copied)
// strings, safe to retain beyond buf's lifetime.
func DecodeTraces(buf []byte) (traces [][]*Span, consumed int, err error) {
	return decodeTraces(buf, ownedString)
}

func decodeTraces(buf []byte, rs stringReader) ([][]*Span, int, error) {
	orig := buf
	n, rest, err := msgp.ReadArrayHeaderBytes(buf)
	if err != nil {
		return nil, 0, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	traces := make([][]*Span, 0, n)
	for i := uint32(0); i < n; i++ {
		spans, o, err := decodeSpanArray(rest, rs)
		if err != nil {
			return nil, 0, err
		}
		traces = append(traces, spans)
		rest = o
	}
	return traces, len(orig) - len(rest), nil
}

func decodeSpanArray(b []byte, rs stringReader) ([]*Span, []byte, error) {
	n, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	spans := make([]*Span, 0, n)
	for i := uint32(0); i < n; i++ {
		sp, o, err := decodeSpan(rest, rs)
		if err != nil {
			return nil, b, err
		}
		spans = append(spans, sp)
		rest = o
	}
	return spans, rest, nil
}

func decodeSpan(b []byte, rs stringReader) (*Span, []byte, error) {
	n, rest, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	sp := &Span{}
	for i := uint32(0); i < n; i++ {
		key, o, err := rs(rest)
		if err != nil {
			return nil, b, err
		}
		rest = o
		rest, err = decodeSpanField(sp, key, rest, rs)
		if err != nil {
			return nil, b, err
		}
	}
	return sp, rest, nil
}

func decodeSpanField(sp *Span, key string, b []byte, rs stringReader) ([]byte, error) {
	switch key {
	case keyService:
		return decodeStringField(&sp.Service, b, rs)
	case keyName:
		return decodeStringField(&sp.Name, b, rs)
	case keyResource:
		return decodeStringField(&sp.Resource, b, rs)
	case keyType:
		return decodeStringField(&sp.Type, b, rs)
	case keyTraceID:
		n, o, err := readNumber(b, true)
		if err != nil {
			return b, err
		}
		v, err := n.toUint64(^uint64(0))
		if err != nil {
			return b, err
		}
		sp.TraceIDLower = v
		return o, nil
	case keySpanID:
		n, o, err := readNumber(b, true)
		if err != nil {
			return b, err
		}
		v, err := n.toUint64(^uint64(0))
		if err != nil {
			return b, err
		}
		sp.SpanID = v
		return o, nil
	case keyParentID:
		n, o, err := readNumber(b, true)
		if err != nil {
			return b, err
		}
		v, err := n.toUint64(^uint64(0))
		if err != nil {
			return b, err
		}
		sp.ParentID = v
		return o, nil
	case keyStart:
		n, o, err := readNumber(b, true)
		if err != nil {
			return b, err
		}
		v, err := n.toInt64(0, 1<<62)
		if err != nil {
			return b, err
		}
		sp.Start = v
		return o, nil
	case keyDuration:
		n, o, err := readNumber(b, true)
		if err != nil {
			return b, err
		}
		v, err := n.toInt64(0, 1<<62)
		if err != nil {
			return b, err
		}
		sp.Duration = v
		return o, nil
	case keyError:
		n, o, err := readNumber(b, true)
		if err != nil {
			return b, err
		}
		v, err := n.toInt32(0, 1)
		if err != nil {
			return b, err
		}
		sp.Error = v
		return o, nil
	case keyMeta:
		m, o, err := decodeStringMap(b, rs)
		if err != nil {
			return b, err
		}
		sp.Meta = m
		if hex, ok := m["_dd.p.tid"]; ok {
			sp.TraceIDUpper = parseHexUint64(hex)
		}
		return o, nil
	case keyMetrics:
		m, o, err := decodeFloatMap(b, rs)
		if err != nil {
			return b, err
		}
		sp.Metrics = m
		return o, nil
	case keyMetaStruct:
		m, o, err := decodeBytesMap(b, rs)
		if err != nil {
			return b, err
		}
		sp.MetaStruct = m
		return o, nil
	case keySpanLinks, keySpanEvents:
		// structurally present per spec but opaque to core verification;
		// skip without interpreting contents.
		o, err := msgp.Skip(b)
		if err != nil {
			return b, wrapIOErr(err)
		}
		return o, nil
	default:
		o, err := msgp.Skip(b)
		if err != nil {
			return b, wrapIOErr(err)
		}
		return o, nil
	}
}

func decodeStringField(dst *string, b []byte, rs stringReader) ([]byte, error) {
	if msgp.IsNil(b) {
		o, err := msgp.ReadNilBytes(b)
		*dst = ""
		return o, wrapIOErr(err)
	}
	s, o, err := rs(b)
	if err != nil {
		return b, err
	}
	*dst = s
	return o, nil
}

func decodeStringMap(b []byte, rs stringReader) (map[string]string, []byte, error) {
	if msgp.IsNil(b) {
		o, err := msgp.ReadNilBytes(b)
		return nil, o, wrapIOErr(err)
	}
	n, rest, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, o, err := rs(rest)
		if err != nil {
			return nil, b, err
		}
		var v string
		o, err = decodeStringField(&v, o, rs)
		if err != nil {
			return nil, b, err
		}
		m[k] = v
		rest = o
	}
	return m, rest, nil
}

func decodeFloatMap(b []byte, rs stringReader) (map[string]float64, []byte, error) {
	if msgp.IsNil(b) {
		o, err := msgp.ReadNilBytes(b)
		return nil, o, wrapIOErr(err)
	}
	n, rest, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	m := make(map[string]float64, n)
	for i := uint32(0); i < n; i++ {
		k, o, err := rs(rest)
		if err != nil {
			return nil, b, err
		}
		num, o2, err := readNumber(o, true)
		if err != nil {
			return nil, b, err
		}
		m[k] = num.toFloat64()
		rest = o2
	}
	return m, rest, nil
}

func decodeBytesMap(b []byte, rs stringReader) (map[string][]byte, []byte, error) {
	if msgp.IsNil(b) {
		o, err := msgp.ReadNilBytes(b)
		return nil, o, wrapIOErr(err)
	}
	n, rest, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
	}
	m := make(map[string][]byte, n)
	for i := uint32(0); i < n; i++ {
		k, o, err := rs(rest)
		if err != nil {
			return nil, b, err
		}
		bts, o2, err := msgp.ReadBytesBytes(o, nil)
		if err != nil {
			return nil, b, xerrors.NewDecode(xerrors.DecodeInvalidFormat, err.Error())
		}
		m[k] = bts
		rest = o2
	}
	return m, rest, nil
}

func parseHexUint64(s string) uint64 {
	var v uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0
		}
		v = v<<4 | d
	}
	return v
}
