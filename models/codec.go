package models

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/logsift/logsift/kit/errors"
)

// AppendValue appends the msgpack encoding of v to dst.
func AppendValue(dst []byte, v Value) []byte {
	switch v.kind {
	case KindNull:
		return msgp.AppendNil(dst)
	case KindBool:
		return msgp.AppendBool(dst, v.b)
	case KindInt:
		return msgp.AppendInt64(dst, v.i)
	case KindFloat:
		return msgp.AppendFloat64(dst, v.f)
	case KindText:
		return msgp.AppendString(dst, v.s)
	case KindList:
		dst = msgp.AppendArrayHeader(dst, uint32(len(v.list)))
		for _, item := range v.list {
			dst = AppendValue(dst, item)
		}
		return dst
	case KindMap:
		dst = msgp.AppendMapHeader(dst, uint32(len(v.m)))
		for _, e := range v.m {
			dst = AppendValue(dst, e.Key)
			dst = AppendValue(dst, e.Val)
		}
		return dst
	}
	return msgp.AppendNil(dst)
}

// ReadValue decodes one msgpack value from b, returning the remainder.
// Binary (byte string) payloads are rejected.
func ReadValue(b []byte) (Value, []byte, error) {
	switch msgp.NextType(b) {
	case msgp.NilType:
		rest, err := msgp.ReadNilBytes(b)
		if err != nil {
			return Value{}, b, decodeErr(err)
		}
		return Null(), rest, nil
	case msgp.BoolType:
		v, rest, err := msgp.ReadBoolBytes(b)
		if err != nil {
			return Value{}, b, decodeErr(err)
		}
		return Bool(v), rest, nil
	case msgp.IntType:
		v, rest, err := msgp.ReadInt64Bytes(b)
		if err != nil {
			return Value{}, b, decodeErr(err)
		}
		return Int(v), rest, nil
	case msgp.UintType:
		v, rest, err := msgp.ReadUint64Bytes(b)
		if err != nil {
			return Value{}, b, decodeErr(err)
		}
		if v > 1<<63-1 {
			return Value{}, b, errors.New(errors.EStorage, "stored integer %d overflows int64", v)
		}
		return Int(int64(v)), rest, nil
	case msgp.Float64Type, msgp.Float32Type:
		v, rest, err := msgp.ReadFloat64Bytes(b)
		if err != nil {
			return Value{}, b, decodeErr(err)
		}
		return Float(v), rest, nil
	case msgp.StrType:
		v, rest, err := msgp.ReadStringBytes(b)
		if err != nil {
			return Value{}, b, decodeErr(err)
		}
		return Text(v), rest, nil
	case msgp.BinType:
		return Value{}, b, errors.New(errors.EValidate, "byte strings are not storable; use unicode text")
	case msgp.ArrayType:
		sz, rest, err := msgp.ReadArrayHeaderBytes(b)
		if err != nil {
			return Value{}, b, decodeErr(err)
		}
		items := make([]Value, 0, sz)
		for i := uint32(0); i < sz; i++ {
			var item Value
			if item, rest, err = ReadValue(rest); err != nil {
				return Value{}, b, err
			}
			items = append(items, item)
		}
		return List(items...), rest, nil
	case msgp.MapType:
		sz, rest, err := msgp.ReadMapHeaderBytes(b)
		if err != nil {
			return Value{}, b, decodeErr(err)
		}
		entries := make([]MapEntry, 0, sz)
		for i := uint32(0); i < sz; i++ {
			var k, val Value
			if k, rest, err = ReadValue(rest); err != nil {
				return Value{}, b, err
			}
			if val, rest, err = ReadValue(rest); err != nil {
				return Value{}, b, err
			}
			entries = append(entries, MapEntry{Key: k, Val: val})
		}
		m, err := Map(entries...)
		if err != nil {
			return Value{}, b, err
		}
		return m, rest, nil
	default:
		return Value{}, b, errors.New(errors.EStorage, "unsupported msgpack type %s", msgp.NextType(b))
	}
}

func decodeErr(err error) error {
	return errors.Wrap(err, errors.EStorage, "models.ReadValue")
}
