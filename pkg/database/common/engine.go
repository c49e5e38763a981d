package common

import (
	"context"
	"fmt"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
)

// ErrorClassifier recognises driver errors. Nil functions never match.
type ErrorClassifier struct {
	MissingTable   func(error) bool
	Constraint     func(error) bool
	Broken         func(error) bool
	DuplicateIndex func(error) bool
}

func match(fn func(error) bool, err error) bool {
	return fn != nil && fn(err)
}

// Engine executes adapter requests with a Dialect over an Executor. The
// relational backends differ only in how they open connections and in
// their Dialect and ErrorClassifier.
type Engine struct {
	Dialect *Dialect
	Errors  ErrorClassifier
}

// Translate converts a condition into a Predicate.
func (e *Engine) Translate(cond *condition.Node) (interface{}, error) {
	return e.Dialect.Translate(cond)
}

// EnsureSchema creates the table and indexes of schema if missing.
func (e *Engine) EnsureSchema(ctx context.Context, ex Executor, schema *adapter.Schema) error {
	stmts, err := e.Dialect.CreateTable(schema)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := ex.Exec(ctx, stmt); err != nil {
			if match(e.Errors.DuplicateIndex, err) {
				continue
			}
			return e.classify("ensure_schema", schema.Collection, err)
		}
	}
	return nil
}

// Execute runs req on ex.
func (e *Engine) Execute(ctx context.Context, ex Executor, req *adapter.Request) (*adapter.Result, error) {
	switch req.Kind {
	case adapter.KindCreate:
		return e.create(ctx, ex, req)
	case adapter.KindBatchCreate:
		return e.batchCreate(ctx, ex, req)
	case adapter.KindFind:
		return e.find(ctx, ex, req.Collection, req.Condition, req.Options)
	case adapter.KindFindByID:
		opts := &adapter.QueryOptions{Limit: 1}
		if req.Options != nil {
			opts.Fields = req.Options.Fields
		}
		res, err := e.find(ctx, ex, req.Collection, idCondition(req.ID), opts)
		if err != nil {
			return nil, err
		}
		if len(res.Records) > 0 {
			res.Record = res.Records[0]
		}
		res.Records = nil
		return res, nil
	case adapter.KindUpdate:
		return e.update(ctx, ex, req.Collection, req.Patch, req.Condition)
	case adapter.KindUpdateByID:
		return e.update(ctx, ex, req.Collection, req.Patch, idCondition(req.ID))
	case adapter.KindDelete:
		return e.delete(ctx, ex, req.Collection, req.Condition)
	case adapter.KindDeleteByID:
		return e.delete(ctx, ex, req.Collection, idCondition(req.ID))
	case adapter.KindCount:
		return e.count(ctx, ex, req)
	case adapter.KindExists:
		return e.exists(ctx, ex, req)
	case adapter.KindEnsureSchema:
		return &adapter.Result{}, e.EnsureSchema(ctx, ex, req.Schema)
	}
	return nil, adapter.NewUnsupportedOperationError(e.Dialect.Type, string(req.Kind), "")
}

func idCondition(id interface{}) *condition.Node {
	return condition.Leaf(adapter.IDField, condition.Eq, id)
}

func (e *Engine) create(ctx context.Context, ex Executor, req *adapter.Request) (*adapter.Result, error) {
	rec := prepareRecord(req.Record)
	var (
		id  interface{}
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		id, err = e.insert(ctx, ex, req, rec)
		if err == nil || attempt > 0 || !match(e.Errors.MissingTable, err) {
			break
		}
		if err = e.EnsureSchema(ctx, ex, schemaFor(req, rec)); err != nil {
			return nil, err
		}
	}
	if err != nil {
		return nil, e.classify("create", req.Collection, err)
	}
	return &adapter.Result{ID: id, Affected: 1}, nil
}

func (e *Engine) batchCreate(ctx context.Context, ex Executor, req *adapter.Request) (*adapter.Result, error) {
	records := make([]adapter.Record, len(req.Records))
	for i, rec := range req.Records {
		records[i] = prepareRecord(rec)
	}

	run := func() ([]interface{}, error) {
		ids := make([]interface{}, 0, len(records))
		err := ex.Tx(ctx, func(tx Executor) error {
			for _, rec := range records {
				id, err := e.insert(ctx, tx, req, rec)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return nil
		})
		return ids, err
	}

	ids, err := run()
	if err != nil && match(e.Errors.MissingTable, err) {
		if err := e.EnsureSchema(ctx, ex, schemaFor(req, records[0])); err != nil {
			return nil, err
		}
		ids, err = run()
	}
	if err != nil {
		return nil, e.classify("batch_create", req.Collection, err)
	}
	return &adapter.Result{IDs: ids, Affected: int64(len(ids))}, nil
}

func (e *Engine) insert(ctx context.Context, ex Executor, req *adapter.Request, rec adapter.Record) (interface{}, error) {
	auto := req.IDStrategy.IsAutoIncrement()
	if !auto {
		if _, ok := rec[adapter.IDField]; !ok {
			return nil, fmt.Errorf("%w: record has no %s", adapter.ErrInvalidQuery, adapter.IDField)
		}
	}

	stmt, err := e.Dialect.Insert(req.Collection, rec, auto)
	if err != nil {
		return nil, err
	}

	if auto && e.Dialect.ReturningID {
		id, _, err := ex.QueryInt(ctx, stmt.SQL, stmt.Args...)
		return id, err
	}
	res, err := ex.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	if id, ok := rec[adapter.IDField]; ok {
		return id, nil
	}
	return res.LastInsertID, nil
}

func (e *Engine) find(ctx context.Context, ex Executor, table string, cond *condition.Node, opts *adapter.QueryOptions) (*adapter.Result, error) {
	stmt, err := e.Dialect.Select(table, cond, opts)
	if err != nil {
		return nil, err
	}
	records, err := ex.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		if match(e.Errors.MissingTable, err) {
			return &adapter.Result{Records: []adapter.Record{}}, nil
		}
		return nil, e.classify("find", table, err)
	}
	return &adapter.Result{Records: records}, nil
}

func (e *Engine) update(ctx context.Context, ex Executor, table string, patch adapter.Record, cond *condition.Node) (*adapter.Result, error) {
	stmt, err := e.Dialect.Update(table, patch, cond)
	if err != nil {
		return nil, err
	}
	return e.exec(ctx, ex, "update", table, stmt)
}

func (e *Engine) delete(ctx context.Context, ex Executor, table string, cond *condition.Node) (*adapter.Result, error) {
	stmt, err := e.Dialect.Delete(table, cond)
	if err != nil {
		return nil, err
	}
	return e.exec(ctx, ex, "delete", table, stmt)
}

func (e *Engine) exec(ctx context.Context, ex Executor, op, table string, stmt Statement) (*adapter.Result, error) {
	res, err := ex.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		if match(e.Errors.MissingTable, err) {
			return &adapter.Result{}, nil
		}
		return nil, e.classify(op, table, err)
	}
	return &adapter.Result{Affected: res.RowsAffected}, nil
}

func (e *Engine) count(ctx context.Context, ex Executor, req *adapter.Request) (*adapter.Result, error) {
	stmt, err := e.Dialect.Count(req.Collection, req.Condition)
	if err != nil {
		return nil, err
	}
	n, _, err := ex.QueryInt(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		if match(e.Errors.MissingTable, err) {
			return &adapter.Result{}, nil
		}
		return nil, e.classify("count", req.Collection, err)
	}
	return &adapter.Result{Count: n}, nil
}

func (e *Engine) exists(ctx context.Context, ex Executor, req *adapter.Request) (*adapter.Result, error) {
	stmt, err := e.Dialect.Exists(req.Collection, req.Condition)
	if err != nil {
		return nil, err
	}
	_, found, err := ex.QueryInt(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		if match(e.Errors.MissingTable, err) {
			return &adapter.Result{}, nil
		}
		return nil, e.classify("exists", req.Collection, err)
	}
	return &adapter.Result{Exists: found}, nil
}

func (e *Engine) classify(op, collection string, err error) error {
	switch {
	case err == nil:
		return nil
	case match(e.Errors.Constraint, err):
		return adapter.NewConstraintError(e.Dialect.Type, collection, err)
	case match(e.Errors.Broken, err):
		return adapter.NewConnectionError(e.Dialect.Type, "", 0, err)
	case match(e.Errors.MissingTable, err):
		return adapter.NewNotFoundError(e.Dialect.Type, "table", collection)
	}
	return adapter.WrapError(e.Dialect.Type, op, err)
}

// prepareRecord copies rec and drops a nil primary key so the backend can
// assign one.
func prepareRecord(rec adapter.Record) adapter.Record {
	out := make(adapter.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	if v, ok := out[adapter.IDField]; ok && v == nil {
		delete(out, adapter.IDField)
	}
	return out
}

func schemaFor(req *adapter.Request, rec adapter.Record) *adapter.Schema {
	if req.Schema != nil {
		return req.Schema
	}
	return adapter.InferSchema(req.Collection, rec, req.IDStrategy)
}
