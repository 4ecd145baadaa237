// Package kv wraps a transactional ordered key-value store. Keys are encoded
// as tuples of small typed atoms whose byte form preserves the atom ordering:
// nil < false < true < integers < floats < strings.
package kv

import (
	"bytes"
	"math"

	"github.com/logsift/logsift/kit/errors"
)

// Atom type tags. The tag byte establishes cross-type ordering.
const (
	tagNil    = 0x00
	tagFalse  = 0x01
	tagTrue   = 0x02
	tagInt    = 0x10
	tagFloat  = 0x20
	tagString = 0x30
)

// Integer class bytes. Splitting the −2^63..2^64−1 range into three classes
// keeps the big-endian magnitude comparable within each class.
const (
	intNegative = 0x00 // int64 < 0
	intSmall    = 0x01 // 0 <= v < 2^63
	intBig      = 0x02 // v >= 2^63
)

// AppendAtom appends the order-preserving encoding of a to dst. Supported
// atoms: nil, bool, int, int64, uint32, uint64, float64, string.
func AppendAtom(dst []byte, a interface{}) ([]byte, error) {
	switch v := a.(type) {
	case nil:
		return append(dst, tagNil), nil
	case bool:
		if v {
			return append(dst, tagTrue), nil
		}
		return append(dst, tagFalse), nil
	case int:
		return appendInt(dst, int64(v)), nil
	case int64:
		return appendInt(dst, v), nil
	case uint32:
		return appendUint(dst, uint64(v)), nil
	case uint64:
		return appendUint(dst, v), nil
	case float64:
		return appendFloat(dst, v), nil
	case string:
		return appendString(dst, v), nil
	default:
		return nil, errors.New(errors.EInternal, "unsupported key atom type %T", a)
	}
}

func appendInt(dst []byte, v int64) []byte {
	if v < 0 {
		dst = append(dst, tagInt, intNegative)
	} else {
		dst = append(dst, tagInt, intSmall)
	}
	return appendUint64BE(dst, uint64(v))
}

func appendUint(dst []byte, v uint64) []byte {
	if v < 1<<63 {
		dst = append(dst, tagInt, intSmall)
	} else {
		dst = append(dst, tagInt, intBig)
	}
	return appendUint64BE(dst, v)
}

func appendFloat(dst []byte, v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	dst = append(dst, tagFloat)
	return appendUint64BE(dst, bits)
}

// appendString escapes interior NUL bytes as 0x00 0xFF and terminates with a
// single 0x00, which keeps prefix ordering intact.
func appendString(dst []byte, s string) []byte {
	dst = append(dst, tagString)
	for i := 0; i < len(s); i++ {
		dst = append(dst, s[i])
		if s[i] == 0x00 {
			dst = append(dst, 0xFF)
		}
	}
	return append(dst, 0x00)
}

func appendUint64BE(dst []byte, v uint64) []byte {
	return append(dst,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// EncodeTuple encodes atoms into a single ordered key.
func EncodeTuple(atoms ...interface{}) ([]byte, error) {
	var dst []byte
	var err error
	for _, a := range atoms {
		if dst, err = AppendAtom(dst, a); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// MustTuple is EncodeTuple for atoms known valid at compile time.
func MustTuple(atoms ...interface{}) []byte {
	b, err := EncodeTuple(atoms...)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeTuple decodes an encoded key back into its atoms. Integers decode as
// int64 when they fit and uint64 otherwise.
func DecodeTuple(b []byte) ([]interface{}, error) {
	var atoms []interface{}
	for len(b) > 0 {
		tag := b[0]
		b = b[1:]
		switch tag {
		case tagNil:
			atoms = append(atoms, nil)
		case tagFalse:
			atoms = append(atoms, false)
		case tagTrue:
			atoms = append(atoms, true)
		case tagInt:
			if len(b) < 9 {
				return nil, errors.New(errors.EStorage, "truncated integer atom")
			}
			class := b[0]
			v := uint64BE(b[1:9])
			b = b[9:]
			switch class {
			case intNegative, intSmall:
				atoms = append(atoms, int64(v))
			case intBig:
				atoms = append(atoms, v)
			default:
				return nil, errors.New(errors.EStorage, "bad integer class 0x%02x", class)
			}
		case tagFloat:
			if len(b) < 8 {
				return nil, errors.New(errors.EStorage, "truncated float atom")
			}
			bits := uint64BE(b[:8])
			b = b[8:]
			if bits&(1<<63) != 0 {
				bits &^= 1 << 63
			} else {
				bits = ^bits
			}
			atoms = append(atoms, math.Float64frombits(bits))
		case tagString:
			var buf bytes.Buffer
			i := 0
			for {
				if i >= len(b) {
					return nil, errors.New(errors.EStorage, "unterminated string atom")
				}
				if b[i] == 0x00 {
					if i+1 < len(b) && b[i+1] == 0xFF {
						buf.WriteByte(0x00)
						i += 2
						continue
					}
					i++
					break
				}
				buf.WriteByte(b[i])
				i++
			}
			b = b[i:]
			atoms = append(atoms, buf.String())
		default:
			return nil, errors.New(errors.EStorage, "bad key atom tag 0x%02x", tag)
		}
	}
	return atoms, nil
}

func uint64BE(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
