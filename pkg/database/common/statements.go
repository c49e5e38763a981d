package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
)

// Statement is a SQL string with its bind arguments.
type Statement struct {
	SQL  string
	Args []interface{}
}

func (d *Dialect) table(name string) (string, error) {
	if err := adapter.ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("%w: %v", adapter.ErrInvalidQuery, err)
	}
	return d.Quote(name), nil
}

func appendWhere(sb *strings.Builder, where string) {
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
}

// Select builds the query behind Find.
func (d *Dialect) Select(table string, cond *condition.Node, opts *adapter.QueryOptions) (Statement, error) {
	tbl, err := d.table(table)
	if err != nil {
		return Statement{}, err
	}
	b := &binder{d: d}
	where, err := b.where(cond)
	if err != nil {
		return Statement{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if opts != nil && len(opts.Fields) > 0 {
		fields := make([]string, 0, len(opts.Fields)+1)
		fields = append(fields, adapter.IDField)
		for _, f := range opts.Fields {
			if f != adapter.IDField {
				fields = append(fields, f)
			}
		}
		sb.WriteString(d.QuoteAll(fields))
	} else {
		sb.WriteString("*")
	}
	sb.WriteString(" FROM ")
	sb.WriteString(tbl)
	appendWhere(&sb, where)

	if opts != nil {
		if len(opts.Sort) > 0 {
			terms := make([]string, len(opts.Sort))
			for i, s := range opts.Sort {
				dir := "ASC"
				if s.Direction == adapter.Descending {
					dir = "DESC"
				}
				terms[i] = d.Quote(s.Field) + " " + dir
			}
			sb.WriteString(" ORDER BY ")
			sb.WriteString(strings.Join(terms, ", "))
		}
		switch {
		case opts.Limit > 0:
			sb.WriteString(" LIMIT " + strconv.FormatInt(opts.Limit, 10))
		case opts.Skip > 0 && d.UnboundedLimit != "":
			sb.WriteString(" LIMIT " + d.UnboundedLimit)
		}
		if opts.Skip > 0 {
			sb.WriteString(" OFFSET " + strconv.FormatInt(opts.Skip, 10))
		}
	}
	return Statement{SQL: sb.String(), Args: b.args}, nil
}

// Count builds a COUNT(*) query.
func (d *Dialect) Count(table string, cond *condition.Node) (Statement, error) {
	tbl, err := d.table(table)
	if err != nil {
		return Statement{}, err
	}
	b := &binder{d: d}
	where, err := b.where(cond)
	if err != nil {
		return Statement{}, err
	}
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(tbl)
	appendWhere(&sb, where)
	return Statement{SQL: sb.String(), Args: b.args}, nil
}

// Exists builds a query returning one row when any row matches.
func (d *Dialect) Exists(table string, cond *condition.Node) (Statement, error) {
	tbl, err := d.table(table)
	if err != nil {
		return Statement{}, err
	}
	b := &binder{d: d}
	where, err := b.where(cond)
	if err != nil {
		return Statement{}, err
	}
	var sb strings.Builder
	sb.WriteString("SELECT 1 FROM ")
	sb.WriteString(tbl)
	appendWhere(&sb, where)
	sb.WriteString(" LIMIT 1")
	return Statement{SQL: sb.String(), Args: b.args}, nil
}

// Insert builds an INSERT for one record. Columns are written in sorted
// order so equal records produce equal statements.
func (d *Dialect) Insert(table string, rec adapter.Record, returnID bool) (Statement, error) {
	tbl, err := d.table(table)
	if err != nil {
		return Statement{}, err
	}
	cols, err := sortedColumns(rec)
	if err != nil {
		return Statement{}, err
	}

	b := &binder{d: d}
	phs := make([]string, len(cols))
	for i, c := range cols {
		if phs[i], err = b.bind(rec[c]); err != nil {
			return Statement{}, err
		}
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(tbl)
	if len(cols) == 0 {
		sb.WriteString(d.emptyInsert())
	} else {
		sb.WriteString(" (" + d.QuoteAll(cols) + ") VALUES (" + strings.Join(phs, ", ") + ")")
	}
	if returnID && d.ReturningID {
		sb.WriteString(" RETURNING " + d.Quote(adapter.IDField))
	}
	return Statement{SQL: sb.String(), Args: b.args}, nil
}

// Update builds an UPDATE applying patch to the rows matching cond.
func (d *Dialect) Update(table string, patch adapter.Record, cond *condition.Node) (Statement, error) {
	tbl, err := d.table(table)
	if err != nil {
		return Statement{}, err
	}
	cols, err := sortedColumns(patch)
	if err != nil {
		return Statement{}, err
	}
	if len(cols) == 0 {
		return Statement{}, fmt.Errorf("%w: update without fields", adapter.ErrInvalidQuery)
	}

	b := &binder{d: d}
	sets := make([]string, len(cols))
	for i, c := range cols {
		ph, err := b.bind(patch[c])
		if err != nil {
			return Statement{}, err
		}
		sets[i] = d.Quote(c) + " = " + ph
	}
	where, err := b.where(cond)
	if err != nil {
		return Statement{}, err
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(tbl)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(sets, ", "))
	appendWhere(&sb, where)
	return Statement{SQL: sb.String(), Args: b.args}, nil
}

// Delete builds a DELETE for the rows matching cond.
func (d *Dialect) Delete(table string, cond *condition.Node) (Statement, error) {
	tbl, err := d.table(table)
	if err != nil {
		return Statement{}, err
	}
	b := &binder{d: d}
	where, err := b.where(cond)
	if err != nil {
		return Statement{}, err
	}
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(tbl)
	appendWhere(&sb, where)
	return Statement{SQL: sb.String(), Args: b.args}, nil
}

// CreateTable returns the DDL statements creating schema's table and indexes.
func (d *Dialect) CreateTable(schema *adapter.Schema) ([]string, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	tbl := d.Quote(schema.Collection)

	key := d.StringKey
	if schema.IDStrategy.IsAutoIncrement() {
		key = d.AutoIncrementKey
	}
	defs := []string{d.Quote(adapter.IDField) + " " + key}
	for _, f := range schema.Fields {
		typ, err := d.ColumnType(f)
		if err != nil {
			return nil, err
		}
		def := d.Quote(f.Name) + " " + typ
		if f.Required {
			def += " NOT NULL"
		}
		if f.Unique {
			def += " UNIQUE"
		}
		defs = append(defs, def)
	}

	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + tbl + " (" + strings.Join(defs, ", ") + ")",
	}
	for _, idx := range schema.Indexes {
		var sb strings.Builder
		sb.WriteString("CREATE ")
		if idx.Unique {
			sb.WriteString("UNIQUE ")
		}
		sb.WriteString("INDEX ")
		if d.IndexIfNotExists {
			sb.WriteString("IF NOT EXISTS ")
		}
		sb.WriteString(d.Quote(idx.IndexName(schema.Collection)))
		sb.WriteString(" ON " + tbl + " (" + d.QuoteAll(idx.Fields) + ")")
		stmts = append(stmts, sb.String())
	}
	return stmts, nil
}

func sortedColumns(rec adapter.Record) ([]string, error) {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		if err := adapter.ValidateIdentifier(c); err != nil {
			return nil, fmt.Errorf("%w: %v", adapter.ErrInvalidQuery, err)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols, nil
}
