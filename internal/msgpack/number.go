// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package msgpack

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/DataDog/libdatadog-sub002/internal/xerrors"
)

// numberKind discriminates the three shapes a decoded Number can take.
type numberKind int

const (
	numUnsigned numberKind = iota
	numSigned
	numFloat
)

// Number is the single sum type every numeric scalar is decoded into
// before being converted, with range checks, to the caller's target type.
type Number struct {
	kind numberKind
	u    uint64
	i    int64
	f    float64
}

// readNumber reads one MessagePack numeric (or nil, if nullable) scalar
// from b, returning the remaining bytes.
func readNumber(b []byte, nullable bool) (Number, []byte, error) {
	if msgp.IsNil(b) {
		if !nullable {
			return Number{}, b, xerrors.NewDecode(xerrors.DecodeInvalidType, "unexpected nil")
		}
		o, err := msgp.ReadNilBytes(b)
		return Number{kind: numUnsigned, u: 0}, o, wrapIOErr(err)
	}
	typ, err := msgp.NextType(b)
	if err != nil {
		return Number{}, b, wrapIOErr(err)
	}
	switch typ {
	case msgp.UintType:
		v, o, err := msgp.ReadUint64Bytes(b)
		return Number{kind: numUnsigned, u: v}, o, wrapIOErr(err)
	case msgp.IntType:
		v, o, err := msgp.ReadInt64Bytes(b)
		return Number{kind: numSigned, i: v}, o, wrapIOErr(err)
	case msgp.Float64Type, msgp.Float32Type:
		v, o, err := msgp.ReadFloat64Bytes(b)
		return Number{kind: numFloat, f: v}, o, wrapIOErr(err)
	default:
		return Number{}, b, xerrors.NewDecode(xerrors.DecodeInvalidType, "not a number")
	}
}

func wrapIOErr(err error) error {
	if err == nil {
		return nil
	}
	return xerrors.NewDecode(xerrors.DecodeIOError, err.Error())
}

// toInt64 converts n to an int64, bounded by [lower, upper]. A float
// source always fails: floats never convert to integers in this codec.
func (n Number) toInt64(lower, upper int64) (int64, error) {
	switch n.kind {
	case numSigned:
		if n.i < lower || n.i > upper {
			return 0, xerrors.NewDecode(xerrors.DecodeInvalidConversion, "signed out of range")
		}
		return n.i, nil
	case numUnsigned:
		if n.u > uint64(upper) {
			return 0, xerrors.NewDecode(xerrors.DecodeInvalidConversion, "unsigned out of range")
		}
		return int64(n.u), nil
	default:
		return 0, xerrors.NewDecode(xerrors.DecodeInvalidConversion, "float to int")
	}
}

// toUint64 converts n to a uint64, bounded above by upper.
func (n Number) toUint64(upper uint64) (uint64, error) {
	switch n.kind {
	case numUnsigned:
		if n.u > upper {
			return 0, xerrors.NewDecode(xerrors.DecodeInvalidConversion, "unsigned out of range")
		}
		return n.u, nil
	case numSigned:
		if n.i < 0 || uint64(n.i) > upper {
			return 0, xerrors.NewDecode(xerrors.DecodeInvalidConversion, "signed out of range")
		}
		return uint64(n.i), nil
	default:
		return 0, xerrors.NewDecode(xerrors.DecodeInvalidConversion, "float to uint")
	}
}

// toFloat64 converts n to a float64; always succeeds for numeric kinds.
func (n Number) toFloat64() float64 {
	switch n.kind {
	case numFloat:
		return n.f
	case numSigned:
		return float64(n.i)
	default:
		return float64(n.u)
	}
}

func (n Number) toInt32(lower, upper int32) (int32, error) {
	v, err := n.toInt64(int64(lower), int64(upper))
	return int32(v), err
}
