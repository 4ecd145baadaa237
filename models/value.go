// Package models holds the dynamic value representation and the wire codecs
// for stored events and index metadata records.
package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/logsift/logsift/kit/errors"
)

// Kind enumerates the value variants.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is the dynamic field value: Null | Bool | Int | Float | Text | List |
// Map. Byte strings are rejected at the boundary; only unicode text is
// accepted.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    []MapEntry
}

// MapEntry is one key/value pair of a map value. Keys must be hashable:
// null, bool, int, float, or text.
type MapEntry struct {
	Key Value
	Val Value
}

// Constructors.
func Null() Value           { return Value{kind: KindNull} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Text(s string) Value   { return Value{kind: KindText, s: s} }

// List returns a list value.
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Map returns a map value with entries sorted by key for a canonical form.
// Unhashable keys are an error.
func Map(entries ...MapEntry) (Value, error) {
	for _, e := range entries {
		if !e.Key.Hashable() {
			return Value{}, errors.New(errors.EValidate, "unhashable map key of kind %s", e.Key.Kind())
		}
	}
	sorted := make([]MapEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key.less(sorted[j].Key)
	})
	return Value{kind: KindMap, m: sorted}, nil
}

// Kind returns the variant of the value.
func (v Value) Kind() Kind { return v.kind }

// Hashable reports whether the value may be used as a map key.
func (v Value) Hashable() bool {
	switch v.kind {
	case KindNull, KindBool, KindInt, KindFloat, KindText:
		return true
	}
	return false
}

// Accessors. Each returns the zero value when the kind does not match.
func (v Value) BoolVal() bool       { return v.b }
func (v Value) IntVal() int64       { return v.i }
func (v Value) FloatVal() float64   { return v.f }
func (v Value) TextVal() string     { return v.s }
func (v Value) Items() []Value      { return v.list }
func (v Value) Entries() []MapEntry { return v.m }

// MapGet returns the value stored under a text key of a map value.
func (v Value) MapGet(key string) (Value, bool) {
	for _, e := range v.m {
		if e.Key.kind == KindText && e.Key.s == key {
			return e.Val, true
		}
	}
	return Value{}, false
}

// less orders hashable values; used for canonical map entry order.
func (v Value) less(o Value) bool {
	if v.kind != o.kind {
		return v.kind < o.kind
	}
	switch v.kind {
	case KindBool:
		return !v.b && o.b
	case KindInt:
		return v.i < o.i
	case KindFloat:
		return v.f < o.f
	case KindText:
		return v.s < o.s
	}
	return false
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindText:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for i := range v.m {
			if !v.m[i].Key.Equal(o.m[i].Key) || !v.m[i].Val.Equal(o.m[i].Val) {
				return false
			}
		}
		return true
	}
	return false
}

// FromInterface converts a decoded JSON-ish value. Byte slices are rejected.
func FromInterface(x interface{}) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint64:
		if v > 1<<63-1 {
			return Value{}, errors.New(errors.EValidate, "integer %d overflows int64", v)
		}
		return Int(int64(v)), nil
	case float64:
		return Float(v), nil
	case string:
		return Text(v), nil
	case []byte:
		return Value{}, errors.New(errors.EValidate, "byte strings are not storable; use unicode text")
	case []interface{}:
		items := make([]Value, 0, len(v))
		for _, item := range v {
			iv, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, iv)
		}
		return List(items...), nil
	case map[string]interface{}:
		entries := make([]MapEntry, 0, len(v))
		for mk, mv := range v {
			ev, err := FromInterface(mv)
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, MapEntry{Key: Text(mk), Val: ev})
		}
		return Map(entries...)
	default:
		return Value{}, errors.New(errors.EValidate, "unsupported value type %T", x)
	}
}

// ToInterface converts the value for JSON emission.
func (v Value) ToInterface() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToInterface()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for _, e := range v.m {
			out[fmt.Sprint(e.Key.ToInterface())] = e.Val.ToInterface()
		}
		return out
	}
	return nil
}

// String renders a debug form.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprint(v.b)
	case KindInt:
		return fmt.Sprint(v.i)
	case KindFloat:
		return fmt.Sprint(v.f)
	case KindText:
		return fmt.Sprintf("%q", v.s)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		parts := make([]string, len(v.m))
		for i, e := range v.m {
			parts[i] = e.Key.String() + ": " + e.Val.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "?"
}
