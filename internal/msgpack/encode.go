// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package msgpack

import "github.com/tinylib/msgp/msgp"

// EncodeTraces appends the v04 array-of-arrays encoding of traces to buf
// and returns the result.
func EncodeTraces(buf []byte, traces [][]*Span) []byte {
	buf = msgp.AppendArrayHeader(buf, uint32(len(traces)))
	for _, spans := range traces {
		buf = msgp.AppendArrayHeader(buf, uint32(len(spans)))
		for _, sp := range spans {
			buf = encodeSpan(buf, sp)
		}
	}
	return buf
}

func encodeSpan(buf []byte, sp *Span) []byte {
	fieldCount := uint32(10)
	if len(sp.Meta) > 0 {
		fieldCount++
	}
	if len(sp.Metrics) > 0 {
		fieldCount++
	}
	if len(sp.MetaStruct) > 0 {
		fieldCount++
	}
	buf = msgp.AppendMapHeader(buf, fieldCount)

	buf = msgp.AppendString(buf, keyService)
	buf = msgp.AppendString(buf, sp.Service)
	buf = msgp.AppendString(buf, keyName)
	buf = msgp.AppendString(buf, sp.Name)
	buf = msgp.AppendString(buf, keyResource)
	buf = msgp.AppendString(buf, sp.Resource)
	buf = msgp.AppendString(buf, keyType)
	buf = msgp.AppendString(buf, sp.Type)
	buf = msgp.AppendString(buf, keyTraceID)
	buf = msgp.AppendUint64(buf, sp.TraceIDLower)
	buf = msgp.AppendString(buf, keySpanID)
	buf = msgp.AppendUint64(buf, sp.SpanID)
	buf = msgp.AppendString(buf, keyParentID)
	buf = msgp.AppendUint64(buf, sp.ParentID)
	buf = msgp.AppendString(buf, keyStart)
	buf = msgp.AppendInt64(buf, sp.Start)
	buf = msgp.AppendString(buf, keyDuration)
	buf = msgp.AppendInt64(buf, sp.Duration)
	buf = msgp.AppendString(buf, keyError)
	buf = msgp.AppendInt32(buf, sp.Error)

	if len(sp.Meta) > 0 {
		buf = msgp.AppendString(buf, keyMeta)
		buf = msgp.AppendMapHeader(buf, uint32(len(sp.Meta)))
		for k, v := range sp.Meta {
			buf = msgp.AppendString(buf, k)
			buf = msgp.AppendString(buf, v)
		}
	}
	if len(sp.Metrics) > 0 {
		buf = msgp.AppendString(buf, keyMetrics)
		buf = msgp.AppendMapHeader(buf, uint32(len(sp.Metrics)))
		for k, v := range sp.Metrics {
			buf = msgp.AppendString(buf, k)
			buf = msgp.AppendFloat64(buf, v)
		}
	}
	if len(sp.MetaStruct) > 0 {
		buf = msgp.AppendString(buf, keyMetaStruct)
		buf = msgp.AppendMapHeader(buf, uint32(len(sp.MetaStruct)))
		for k, v := range sp.MetaStruct {
			buf = msgp.AppendString(buf, k)
			buf = msgp.AppendBytes(buf, v)
		}
	}
	return buf
}
