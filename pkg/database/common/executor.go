package common

import (
	"context"
	"database/sql"

	"github.com/redbco/quickdb/pkg/adapter"
)

// ExecResult is the outcome of a statement that returns no rows.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// Executor runs statements on one connection. database/sql backends use
// SQLExecutor; pgx provides its own implementation.
type Executor interface {
	Exec(ctx context.Context, query string, args ...interface{}) (ExecResult, error)
	Query(ctx context.Context, query string, args ...interface{}) ([]adapter.Record, error)
	QueryInt(ctx context.Context, query string, args ...interface{}) (int64, bool, error)
	Tx(ctx context.Context, fn func(Executor) error) error
}

// queryer is the part of *sql.DB and *sql.Tx that SQLExecutor needs.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// SQLExecutor adapts a database/sql handle to Executor.
type SQLExecutor struct {
	db      *sql.DB
	q       queryer
	dialect *Dialect
}

// NewSQLExecutor wraps db.
func NewSQLExecutor(db *sql.DB, dialect *Dialect) *SQLExecutor {
	return &SQLExecutor{db: db, q: db, dialect: dialect}
}

// Exec runs a statement and reports affected rows and the last insert id.
func (e *SQLExecutor) Exec(ctx context.Context, query string, args ...interface{}) (ExecResult, error) {
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return ExecResult{}, err
	}
	var out ExecResult
	out.RowsAffected, _ = res.RowsAffected()
	out.LastInsertID, _ = res.LastInsertId()
	return out, nil
}

// Query runs a query and decodes every row into a record.
func (e *SQLExecutor) Query(ctx context.Context, query string, args ...interface{}) ([]adapter.Record, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanRecords(rows, e.dialect)
}

// QueryInt runs a query returning a single integer. The boolean is false
// when no row came back.
func (e *SQLExecutor) QueryInt(ctx context.Context, query string, args ...interface{}) (int64, bool, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var n sql.NullInt64
	if err := rows.Scan(&n); err != nil {
		return 0, false, err
	}
	return n.Int64, true, rows.Err()
}

// Tx runs fn inside a transaction, committing when fn returns nil.
func (e *SQLExecutor) Tx(ctx context.Context, fn func(Executor) error) error {
	if e.db == nil {
		return fn(e)
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&SQLExecutor{q: tx, dialect: e.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ScanRecords reads every remaining row of rows into records.
func ScanRecords(rows *sql.Rows, dialect *Dialect) ([]adapter.Record, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	records := make([]adapter.Record, 0)
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(adapter.Record, len(cols))
		for i, col := range cols {
			rec[col.Name()] = dialect.DecodeValue(col.DatabaseTypeName(), values[i])
			values[i] = nil
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
