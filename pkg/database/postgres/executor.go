package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/database/common"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// executor implements common.Executor on a pgx connection or transaction.
type executor struct {
	conn *pgx.Conn
	q    querier
}

func newExecutor(conn *pgx.Conn) *executor {
	return &executor{conn: conn, q: conn}
}

func (e *executor) Exec(ctx context.Context, query string, args ...interface{}) (common.ExecResult, error) {
	tag, err := e.q.Exec(ctx, query, args...)
	if err != nil {
		return common.ExecResult{}, err
	}
	return common.ExecResult{RowsAffected: tag.RowsAffected()}, nil
}

func (e *executor) Query(ctx context.Context, query string, args ...interface{}) ([]adapter.Record, error) {
	rows, err := e.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	typeNames := make([]string, len(fields))
	typeMap := rows.Conn().TypeMap()
	for i, fd := range fields {
		if t, ok := typeMap.TypeForOID(fd.DataTypeOID); ok {
			typeNames[i] = t.Name
		}
	}

	records := make([]adapter.Record, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rec := make(adapter.Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = common.PostgreSQL.DecodeValue(typeNames[i], values[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (e *executor) QueryInt(ctx context.Context, query string, args ...interface{}) (int64, bool, error) {
	var n int64
	err := e.q.QueryRow(ctx, query, args...).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (e *executor) Tx(ctx context.Context, fn func(common.Executor) error) error {
	if e.conn == nil {
		return fn(e)
	}
	return pgx.BeginFunc(ctx, e.conn, func(tx pgx.Tx) error {
		return fn(&executor{q: tx})
	})
}
