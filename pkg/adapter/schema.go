package adapter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/redbco/quickdb/pkg/idgen"
)

// FieldType is the portable column type of a schema field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
	FieldInteger  FieldType = "integer"
	FieldFloat    FieldType = "float"
	FieldBoolean  FieldType = "boolean"
	FieldDateTime FieldType = "datetime"
	FieldJSON     FieldType = "json"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdentifier checks that name is usable as a table, collection or
// column name on every backend.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// FieldDefinition describes one column or document field.
type FieldDefinition struct {
	Name      string      `json:"name" yaml:"name"`
	Type      FieldType   `json:"type" yaml:"type"`
	Required  bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Unique    bool        `json:"unique,omitempty" yaml:"unique,omitempty"`
	MaxLength int         `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Default   interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// IndexDefinition describes a secondary index.
type IndexDefinition struct {
	Name   string   `json:"name,omitempty" yaml:"name,omitempty"`
	Fields []string `json:"fields" yaml:"fields"`
	Unique bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// IndexName returns the explicit name or one derived from the collection and fields.
func (i IndexDefinition) IndexName(collection string) string {
	if i.Name != "" {
		return i.Name
	}
	prefix := "idx"
	if i.Unique {
		prefix = "uidx"
	}
	return prefix + "_" + collection + "_" + strings.Join(i.Fields, "_")
}

// Schema is an explicit model definition. The primary key is implicit and
// its column type follows IDStrategy.
type Schema struct {
	Collection string            `json:"collection" yaml:"collection"`
	Fields     []FieldDefinition `json:"fields" yaml:"fields"`
	Indexes    []IndexDefinition `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	IDStrategy idgen.Strategy    `json:"id_strategy" yaml:"id_strategy"`
}

// FieldOption customises a field added through the builder.
type FieldOption func(*FieldDefinition)

// Required marks the field NOT NULL.
func Required() FieldOption { return func(f *FieldDefinition) { f.Required = true } }

// Unique adds a unique constraint on the field.
func Unique() FieldOption { return func(f *FieldDefinition) { f.Unique = true } }

// MaxLength bounds a string field.
func MaxLength(n int) FieldOption { return func(f *FieldDefinition) { f.MaxLength = n } }

// Default sets the value used when a record omits the field.
func Default(v interface{}) FieldOption { return func(f *FieldDefinition) { f.Default = v } }

// NewSchema starts a schema for collection.
func NewSchema(collection string) *Schema {
	return &Schema{Collection: collection}
}

// Field appends a field definition.
func (s *Schema) Field(name string, typ FieldType, opts ...FieldOption) *Schema {
	f := FieldDefinition{Name: name, Type: typ}
	for _, opt := range opts {
		opt(&f)
	}
	s.Fields = append(s.Fields, f)
	return s
}

// Index appends a non-unique index over fields.
func (s *Schema) Index(fields ...string) *Schema {
	s.Indexes = append(s.Indexes, IndexDefinition{Fields: fields})
	return s
}

// UniqueIndex appends a unique index over fields.
func (s *Schema) UniqueIndex(fields ...string) *Schema {
	s.Indexes = append(s.Indexes, IndexDefinition{Fields: fields, Unique: true})
	return s
}

// WithIDStrategy sets the primary key strategy.
func (s *Schema) WithIDStrategy(strategy idgen.Strategy) *Schema {
	s.IDStrategy = strategy
	return s
}

// FieldByName looks up a field definition.
func (s *Schema) FieldByName(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// Validate checks names, types and index references.
func (s *Schema) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil schema", ErrInvalidQuery)
	}
	if err := ValidateIdentifier(s.Collection); err != nil {
		return fmt.Errorf("%w: collection: %v", ErrInvalidQuery, err)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if err := ValidateIdentifier(f.Name); err != nil {
			return fmt.Errorf("%w: field: %v", ErrInvalidQuery, err)
		}
		if f.Name == IDField {
			return fmt.Errorf("%w: field %q is the implicit primary key", ErrInvalidQuery, IDField)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidQuery, f.Name)
		}
		seen[f.Name] = struct{}{}
		switch f.Type {
		case FieldString, FieldText, FieldInteger, FieldFloat, FieldBoolean, FieldDateTime, FieldJSON:
		default:
			return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidQuery, f.Name, f.Type)
		}
		if f.MaxLength < 0 {
			return fmt.Errorf("%w: field %q has negative max length", ErrInvalidQuery, f.Name)
		}
	}
	for _, idx := range s.Indexes {
		if len(idx.Fields) == 0 {
			return fmt.Errorf("%w: index without fields", ErrInvalidQuery)
		}
		for _, name := range idx.Fields {
			if _, ok := seen[name]; !ok && name != IDField {
				return fmt.Errorf("%w: index references unknown field %q", ErrInvalidQuery, name)
			}
		}
	}
	if s.IDStrategy.Type != "" {
		if err := s.IDStrategy.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}
	return nil
}

// ApplyDefaults returns a copy of rec with declared defaults filled in.
func (s *Schema) ApplyDefaults(rec Record) Record {
	if s == nil {
		return rec
	}
	out := make(Record, len(rec)+len(s.Fields))
	for k, v := range rec {
		out[k] = v
	}
	for _, f := range s.Fields {
		if _, ok := out[f.Name]; !ok && f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	return out
}

// InferSchema derives a schema from the values of a record. It is used when
// a collection is written before any model was registered for it.
func InferSchema(collection string, rec Record, strategy idgen.Strategy) *Schema {
	s := NewSchema(collection).WithIDStrategy(strategy)
	names := make([]string, 0, len(rec))
	for name := range rec {
		if name != IDField {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		s.Field(name, InferFieldType(rec[name]))
	}
	return s
}

// InferFieldType maps a Go value to the closest portable field type.
func InferFieldType(v interface{}) FieldType {
	switch v.(type) {
	case string:
		return FieldString
	case bool:
		return FieldBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return FieldInteger
	case float32, float64:
		return FieldFloat
	case time.Time, *time.Time:
		return FieldDateTime
	case nil:
		return FieldText
	}
	return FieldJSON
}
