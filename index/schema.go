// Package index implements the segmented inverted index: the persisted
// schema, segment storage, write path, and snapshot searchers.
package index

import (
	"github.com/logsift/logsift/field"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/kv"
	"github.com/logsift/logsift/models"
)

// Schema is the persisted field catalog of an index, bound to the
// transaction that produced its bucket. Entries are keyed by (name, type)
// tuples; extension happens only inside a write transaction.
type Schema struct {
	b   *kv.Bucket
	reg *field.Registry
}

func newSchema(b *kv.Bucket, reg *field.Registry) *Schema {
	return &Schema{b: b, reg: reg}
}

// Has reports whether the field exists. An empty typ matches any type
// registered under name.
func (s *Schema) Has(name, typ string) (bool, error) {
	qf, err := s.GetField(name, typ)
	if err != nil {
		if errors.ErrorCode(err) == errors.ESchema {
			return true, nil
		}
		return false, err
	}
	return qf != nil, nil
}

// GetField resolves (name, typ). An empty name addresses the default field;
// an empty typ demands that name maps to exactly one type. A (nil, nil)
// return means the field is not in the schema.
func (s *Schema) GetField(name, typ string) (*field.QualifiedField, error) {
	if name == "" {
		name = models.DefaultField
		if typ == "" {
			typ = field.TypeText
		}
	}
	if s.b == nil {
		return nil, nil
	}

	if typ != "" {
		if s.b.Get(kv.MustTuple(name, typ)) == nil {
			return nil, nil
		}
		return s.qualified(name, typ)
	}

	prefix := kv.MustTuple(name)
	it := s.b.Range(prefix, prefixEnd(prefix), false)
	var found string
	n := 0
	for k, _ := it.Next(); k != nil; k, _ = it.Next() {
		atoms, err := kv.DecodeTuple(k)
		if err != nil || len(atoms) != 2 {
			return nil, errors.New(errors.EStorage, "malformed schema key")
		}
		found = atoms[1].(string)
		n++
	}
	switch n {
	case 0:
		return nil, nil
	case 1:
		return s.qualified(name, found)
	default:
		return nil, errors.New(errors.ESchema, "field %q exists with %d types, qualify the type", name, n)
	}
}

// Add persists a new (name, typ) mapping.
func (s *Schema) Add(name, typ string) (*field.QualifiedField, error) {
	if err := field.ValidateName(name); err != nil {
		return nil, err
	}
	if !s.reg.Has(typ) {
		return nil, errors.New(errors.ESchema, "unknown field type %q", typ)
	}
	key := kv.MustTuple(name, typ)
	if s.b.Get(key) != nil {
		return nil, errors.New(errors.ESchema, "field %s:%s already in schema", name, typ)
	}
	if err := s.b.Put(key, []byte{}); err != nil {
		return nil, err
	}
	return s.qualified(name, typ)
}

// List returns every schema entry in (name, type) order.
func (s *Schema) List() ([]*field.QualifiedField, error) {
	if s.b == nil {
		return nil, nil
	}
	var out []*field.QualifiedField
	it := s.b.Range(nil, prefixEnd(nil), false)
	for k, _ := it.Next(); k != nil; k, _ = it.Next() {
		atoms, err := kv.DecodeTuple(k)
		if err != nil || len(atoms) != 2 {
			return nil, errors.New(errors.EStorage, "malformed schema key")
		}
		qf, err := s.qualified(atoms[0].(string), atoms[1].(string))
		if err != nil {
			return nil, err
		}
		out = append(out, qf)
	}
	return out, nil
}

func (s *Schema) qualified(name, typ string) (*field.QualifiedField, error) {
	t, err := s.reg.Lookup(typ)
	if err != nil {
		return nil, errors.Wrap(err, errors.ESchema, "index.Schema")
	}
	return &field.QualifiedField{Name: name, Type: t}, nil
}

// prefixEnd returns a key greater than every key sharing the prefix. Atom
// tag bytes never reach 0xFF, so appending one closes the range.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix), len(prefix)+1)
	copy(end, prefix)
	return append(end, 0xFF)
}
