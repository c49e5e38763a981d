package adapter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/redbco/quickdb/pkg/condition"
	"github.com/redbco/quickdb/pkg/idgen"
)

// Record is a single row or document. The primary key is always stored
// under IDField regardless of the backend's native name.
type Record = map[string]interface{}

// IDField is the primary key name exposed to callers.
const IDField = "id"

// Kind is the operation a Request asks for.
type Kind string

const (
	KindCreate      Kind = "create"
	KindBatchCreate Kind = "batch_create"
	KindFind        Kind = "find"
	KindFindByID    Kind = "find_by_id"
	KindUpdate      Kind = "update"
	KindUpdateByID  Kind = "update_by_id"
	KindDelete      Kind = "delete"
	KindDeleteByID  Kind = "delete_by_id"
	KindCount       Kind = "count"
	KindExists      Kind = "exists"

	// Internal kinds dispatched through the same path.
	KindEnsureSchema Kind = "ensure_schema"
	KindPing         Kind = "ping"
)

// IsRead reports whether the kind only reads data and may be cached.
func (k Kind) IsRead() bool {
	switch k {
	case KindFind, KindFindByID, KindCount, KindExists:
		return true
	}
	return false
}

// IsWrite reports whether the kind mutates data.
func (k Kind) IsWrite() bool {
	switch k {
	case KindCreate, KindBatchCreate, KindUpdate, KindUpdateByID, KindDelete, KindDeleteByID:
		return true
	}
	return false
}

// Request is an immutable description of one operation. It is delivered to
// exactly one connection.
type Request struct {
	Kind       Kind
	Alias      string
	Collection string

	// Payloads; which one is read depends on Kind.
	Record  Record
	Records []Record
	Patch   Record
	ID      interface{}

	Condition *condition.Node
	Options   *QueryOptions

	IDStrategy idgen.Strategy

	// Schema, when set, is ensured before a create.
	Schema *Schema
}

// Validate checks that the payload required by Kind is present.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidQuery)
	}
	if r.Kind == KindPing {
		return nil
	}
	if r.Kind == KindEnsureSchema {
		if r.Schema == nil {
			return fmt.Errorf("%w: ensure_schema without schema", ErrInvalidQuery)
		}
		return r.Schema.Validate()
	}
	if err := ValidateIdentifier(r.Collection); err != nil {
		return fmt.Errorf("%w: collection: %v", ErrInvalidQuery, err)
	}

	switch r.Kind {
	case KindCreate:
		if r.Record == nil {
			return fmt.Errorf("%w: create without record", ErrInvalidQuery)
		}
	case KindBatchCreate:
		if len(r.Records) == 0 {
			return fmt.Errorf("%w: batch_create without records", ErrInvalidQuery)
		}
		for i, rec := range r.Records {
			if rec == nil {
				return fmt.Errorf("%w: batch_create record %d is nil", ErrInvalidQuery, i)
			}
		}
	case KindUpdate:
		if len(r.Patch) == 0 {
			return fmt.Errorf("%w: update without fields", ErrInvalidQuery)
		}
	case KindUpdateByID:
		if len(r.Patch) == 0 {
			return fmt.Errorf("%w: update without fields", ErrInvalidQuery)
		}
		if r.ID == nil {
			return fmt.Errorf("%w: %s without id", ErrInvalidQuery, r.Kind)
		}
	case KindFindByID, KindDeleteByID:
		if r.ID == nil {
			return fmt.Errorf("%w: %s without id", ErrInvalidQuery, r.Kind)
		}
	case KindFind, KindDelete, KindCount, KindExists:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, r.Kind)
	}

	if _, ok := r.Patch[IDField]; ok {
		return fmt.Errorf("%w: the primary key cannot be updated", ErrInvalidQuery)
	}
	return r.Options.Validate()
}

// Result carries the outcome of a Request. Only the fields relevant to the
// request's Kind are set.
type Result struct {
	Records  []Record
	Record   Record // FindByID; nil when absent
	ID       interface{}
	IDs      []interface{}
	Affected int64
	Count    int64
	Exists   bool
}

// SortDirection orders query results.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// SortField is one ordering term.
type SortField struct {
	Field     string        `json:"field" yaml:"field"`
	Direction SortDirection `json:"direction" yaml:"direction"`
}

// QueryOptions shape the rows returned by Find.
type QueryOptions struct {
	Sort   []SortField `json:"sort,omitempty" yaml:"sort,omitempty"`
	Skip   int64       `json:"skip,omitempty" yaml:"skip,omitempty"`
	Limit  int64       `json:"limit,omitempty" yaml:"limit,omitempty"`
	Fields []string    `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Validate checks the options. A nil receiver is valid.
func (o *QueryOptions) Validate() error {
	if o == nil {
		return nil
	}
	if o.Skip < 0 || o.Limit < 0 {
		return fmt.Errorf("%w: skip and limit must not be negative", ErrInvalidQuery)
	}
	for _, s := range o.Sort {
		if err := ValidateIdentifier(s.Field); err != nil {
			return fmt.Errorf("%w: sort: %v", ErrInvalidQuery, err)
		}
		switch s.Direction {
		case "", Ascending, Descending:
		default:
			return fmt.Errorf("%w: sort direction %q", ErrInvalidQuery, s.Direction)
		}
	}
	for _, f := range o.Fields {
		if err := ValidateIdentifier(f); err != nil {
			return fmt.Errorf("%w: fields: %v", ErrInvalidQuery, err)
		}
	}
	return nil
}

// Key is a deterministic encoding of the options used in cache keys.
func (o *QueryOptions) Key() string {
	if o == nil {
		return ""
	}
	var b strings.Builder
	for _, s := range o.Sort {
		dir := s.Direction
		if dir == "" {
			dir = Ascending
		}
		b.WriteString("s:")
		b.WriteString(s.Field)
		b.WriteByte(' ')
		b.WriteString(string(dir))
		b.WriteByte(';')
	}
	if o.Skip > 0 {
		b.WriteString("o:" + strconv.FormatInt(o.Skip, 10) + ";")
	}
	if o.Limit > 0 {
		b.WriteString("l:" + strconv.FormatInt(o.Limit, 10) + ";")
	}
	if len(o.Fields) > 0 {
		b.WriteString("f:" + strings.Join(o.Fields, ",") + ";")
	}
	return b.String()
}

// Project returns a copy of rec restricted to fields plus the primary key.
// An empty field list returns rec unchanged.
func Project(rec Record, fields []string) Record {
	if len(fields) == 0 || rec == nil {
		return rec
	}
	out := make(Record, len(fields)+1)
	if id, ok := rec[IDField]; ok {
		out[IDField] = id
	}
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}
