// Package field defines the typed field handlers of the index: validation,
// tokenization into terms, and the operators each type supports.
package field

import (
	"regexp"

	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/models"
)

// Known field type names.
const (
	TypeIdentity = "identity"
	TypeText     = "text"
	TypeInteger  = "integer"
	TypeDatetime = "datetime"
)

// Operators accepted in queries.
const (
	OpIs = "is"
	OpIn = "in"
	OpGt = "gt"
	OpLt = "lt"
	OpGe = "ge"
	OpLe = "le"
)

// Term is one tokenized fragment of a field value. The value is a key atom
// (string or int64) and Meta is the per-occurrence posting metadata.
type Term struct {
	Value interface{}
	Meta  models.Value
}

// Type is a field type handler.
type Type interface {
	// Name returns the type string used in the schema.
	Name() string
	// Validate canonicalizes a raw value or rejects it.
	Validate(v models.Value) (models.Value, error)
	// Parse tokenizes a canonical value into index terms with metadata.
	Parse(v models.Value) ([]Term, error)
	// HasOperator reports whether the query operator applies to this type.
	HasOperator(op string) bool
}

// QualifiedField is a (fieldName, fieldType) pair bound to its handler.
type QualifiedField struct {
	Name string
	Type Type
}

// Key returns the schema key of the qualified field.
func (q QualifiedField) Key() (name, typ string) { return q.Name, q.Type.Name() }

// Registry maps type names to handlers.
type Registry struct {
	types map[string]Type
}

// NewRegistry returns a registry with the built-in types registered.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]Type)}
	r.Register(identityType{})
	r.Register(textType{})
	r.Register(integerType{})
	r.Register(datetimeType{})
	return r
}

// Register adds a handler.
func (r *Registry) Register(t Type) { r.types[t.Name()] = t }

// Lookup returns the handler for a type name.
func (r *Registry) Lookup(name string) (Type, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, errors.New(errors.ESchema, "unknown field type %q", name)
	}
	return t, nil
}

// Has reports whether the type name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.types[name]
	return ok
}

var fieldNameRe = regexp.MustCompile(`^[\p{L}\p{N}_]{2,}$`)

// ValidateName enforces the field naming rule: at least two word characters,
// not beginning with two underscores. A single leading underscore marks an
// ephemeral field that is accepted on write but stripped before storage.
func ValidateName(name string) error {
	if !fieldNameRe.MatchString(name) {
		return errors.New(errors.ESchema, "invalid field name %q", name)
	}
	if len(name) >= 2 && name[0] == '_' && name[1] == '_' {
		return errors.New(errors.ESchema, "field name %q must not begin with two underscores", name)
	}
	return nil
}

// Ephemeral reports whether the field is an intermediate marker that must be
// stripped before storage.
func Ephemeral(name string) bool { return len(name) > 0 && name[0] == '_' }
