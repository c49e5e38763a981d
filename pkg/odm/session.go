package odm

import (
	"context"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
)

// Session runs operations against one alias. An empty alias follows the
// registry's default at the time of each call.
type Session struct {
	registry *Registry
	alias    string
}

// Alias returns the bound alias, or "" for the default.
func (s *Session) Alias() string {
	return s.alias
}

func (s *Session) database() (*Database, error) {
	return s.registry.Get(s.alias)
}

// run resolves the alias and dispatches req.
func (s *Session) run(ctx context.Context, req *adapter.Request) (*adapter.Result, error) {
	db, err := s.database()
	if err != nil {
		return nil, err
	}
	return db.dispatch(ctx, req)
}

// prepare copies rec, applies the collection model's defaults and assigns
// an id when the alias generates them.
func prepare(ctx context.Context, db *Database, schema *adapter.Schema, rec adapter.Record) (adapter.Record, error) {
	var out adapter.Record
	if schema != nil {
		out = schema.ApplyDefaults(rec)
	} else {
		out = make(adapter.Record, len(rec)+1)
		for k, v := range rec {
			out[k] = v
		}
	}
	if err := db.nextID(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts record and returns its id.
func (s *Session) Create(ctx context.Context, collection string, record adapter.Record) (interface{}, error) {
	if record == nil {
		record = adapter.Record{}
	}
	db, err := s.database()
	if err != nil {
		return nil, err
	}
	schema := db.model(collection)
	rec, err := prepare(ctx, db, schema, record)
	if err != nil {
		return nil, err
	}

	res, err := db.dispatch(ctx, &adapter.Request{
		Kind:       adapter.KindCreate,
		Collection: collection,
		Record:     rec,
		Schema:     schema,
	})
	if err != nil {
		return nil, err
	}
	return res.ID, nil
}

// BatchCreate inserts records in one transaction where the backend supports
// it and returns their ids in order.
func (s *Session) BatchCreate(ctx context.Context, collection string, records []adapter.Record) ([]interface{}, error) {
	db, err := s.database()
	if err != nil {
		return nil, err
	}
	schema := db.model(collection)
	recs := make([]adapter.Record, len(records))
	for i, record := range records {
		if record == nil {
			record = adapter.Record{}
		}
		if recs[i], err = prepare(ctx, db, schema, record); err != nil {
			return nil, err
		}
	}

	res, err := db.dispatch(ctx, &adapter.Request{
		Kind:       adapter.KindBatchCreate,
		Collection: collection,
		Records:    recs,
		Schema:     schema,
	})
	if err != nil {
		return nil, err
	}
	return res.IDs, nil
}

// Find returns the records matching cond, which may be any shape accepted
// by condition.Normalize; nil matches everything.
func (s *Session) Find(ctx context.Context, collection string, cond interface{}, opts *adapter.QueryOptions) ([]adapter.Record, error) {
	node, err := condition.Normalize(cond)
	if err != nil {
		return nil, err
	}
	res, err := s.run(ctx, &adapter.Request{
		Kind:       adapter.KindFind,
		Collection: collection,
		Condition:  node,
		Options:    opts,
	})
	if err != nil {
		return nil, err
	}
	if res.Records == nil {
		return []adapter.Record{}, nil
	}
	return res.Records, nil
}

// FindByID returns the record with id, or nil when there is none.
func (s *Session) FindByID(ctx context.Context, collection string, id interface{}) (adapter.Record, error) {
	res, err := s.run(ctx, &adapter.Request{
		Kind:       adapter.KindFindByID,
		Collection: collection,
		ID:         id,
	})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// Update applies patch to every record matching cond and returns how many
// were changed.
func (s *Session) Update(ctx context.Context, collection string, cond interface{}, patch adapter.Record) (int64, error) {
	node, err := condition.Normalize(cond)
	if err != nil {
		return 0, err
	}
	res, err := s.run(ctx, &adapter.Request{
		Kind:       adapter.KindUpdate,
		Collection: collection,
		Condition:  node,
		Patch:      patch,
	})
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

// UpdateByID applies patch to the record with id and reports whether it
// existed.
func (s *Session) UpdateByID(ctx context.Context, collection string, id interface{}, patch adapter.Record) (bool, error) {
	res, err := s.run(ctx, &adapter.Request{
		Kind:       adapter.KindUpdateByID,
		Collection: collection,
		ID:         id,
		Patch:      patch,
	})
	if err != nil {
		return false, err
	}
	return res.Affected > 0, nil
}

// Delete removes every record matching cond and returns how many were
// removed.
func (s *Session) Delete(ctx context.Context, collection string, cond interface{}) (int64, error) {
	node, err := condition.Normalize(cond)
	if err != nil {
		return 0, err
	}
	res, err := s.run(ctx, &adapter.Request{
		Kind:       adapter.KindDelete,
		Collection: collection,
		Condition:  node,
	})
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

// DeleteByID removes the record with id and reports whether it existed.
func (s *Session) DeleteByID(ctx context.Context, collection string, id interface{}) (bool, error) {
	res, err := s.run(ctx, &adapter.Request{
		Kind:       adapter.KindDeleteByID,
		Collection: collection,
		ID:         id,
	})
	if err != nil {
		return false, err
	}
	return res.Affected > 0, nil
}

// Count returns the number of records matching cond.
func (s *Session) Count(ctx context.Context, collection string, cond interface{}) (int64, error) {
	node, err := condition.Normalize(cond)
	if err != nil {
		return 0, err
	}
	res, err := s.run(ctx, &adapter.Request{
		Kind:       adapter.KindCount,
		Collection: collection,
		Condition:  node,
	})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Exists reports whether any record matches cond.
func (s *Session) Exists(ctx context.Context, collection string, cond interface{}) (bool, error) {
	node, err := condition.Normalize(cond)
	if err != nil {
		return false, err
	}
	res, err := s.run(ctx, &adapter.Request{
		Kind:       adapter.KindExists,
		Collection: collection,
		Condition:  node,
	})
	if err != nil {
		return false, err
	}
	return res.Exists, nil
}
