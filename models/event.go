package models

import (
	"sort"

	"github.com/golang/snappy"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/kit/errors"
)

// Default and required field names of every stored event.
const (
	DefaultField  = "message"
	InputField    = "input"
	HostnameField = "hostname"
)

// EventField is one (fieldName, fieldType) → value entry of an event.
type EventField struct {
	Name  string
	Type  string
	Value Value
}

// Event is an immutable committed record: an identifier plus its field
// entries, sorted by (name, type).
type Event struct {
	ID     evid.EVID
	Fields []EventField
}

// Get returns the value stored under (name, typ).
func (e *Event) Get(name, typ string) (Value, bool) {
	for _, f := range e.Fields {
		if f.Name == name && f.Type == typ {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Stored events are msgpack maps of [name, type] → value, optionally snappy
// compressed. The leading byte distinguishes the two framings.
const (
	eventFramingRaw    = 0x00
	eventFramingSnappy = 0x01

	compressThreshold = 256
)

// EncodeFields encodes event fields into their stored form.
func EncodeFields(fields []EventField) []byte {
	sorted := make([]EventField, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Type < sorted[j].Type
	})

	body := appendFieldMap(nil, sorted)
	if len(body) > compressThreshold {
		return append([]byte{eventFramingSnappy}, snappy.Encode(nil, body)...)
	}
	return append([]byte{eventFramingRaw}, body...)
}

func appendFieldMap(dst []byte, fields []EventField) []byte {
	dst = appendMapHeader(dst, uint32(len(fields)))
	for _, f := range fields {
		dst = appendFieldKey(dst, f.Name, f.Type)
		dst = AppendValue(dst, f.Value)
	}
	return dst
}

// DecodeFields decodes the stored form back into field entries.
func DecodeFields(buf []byte) ([]EventField, error) {
	if len(buf) == 0 {
		return nil, errors.New(errors.EStorage, "empty stored event")
	}
	body := buf[1:]
	switch buf[0] {
	case eventFramingRaw:
	case eventFramingSnappy:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, errors.Wrap(err, errors.EStorage, "models.DecodeFields")
		}
		body = decoded
	default:
		return nil, errors.New(errors.EStorage, "unknown stored event framing 0x%02x", buf[0])
	}

	sz, rest, err := readMapHeader(body)
	if err != nil {
		return nil, err
	}
	fields := make([]EventField, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var name, typ string
		if name, typ, rest, err = readFieldKey(rest); err != nil {
			return nil, err
		}
		var v Value
		if v, rest, err = ReadValue(rest); err != nil {
			return nil, err
		}
		fields = append(fields, EventField{Name: name, Type: typ, Value: v})
	}
	return fields, nil
}
