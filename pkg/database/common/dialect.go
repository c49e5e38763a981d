// Package common holds the SQL layer shared by the relational backends:
// dialect descriptions, predicate translation, statement builders, row
// decoding and the request engine that drives them.
package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

// PlaceholderStyle selects how bind parameters are written.
type PlaceholderStyle int

const (
	// Question writes every parameter as "?".
	Question PlaceholderStyle = iota
	// Dollar writes numbered parameters "$1", "$2", ...
	Dollar
)

// Dialect describes the SQL differences between backends.
type Dialect struct {
	Type        dbcapabilities.DatabaseType
	Placeholder PlaceholderStyle

	// QuoteOpen and QuoteClose wrap identifiers.
	QuoteOpen  string
	QuoteClose string

	// RegexOperator is the infix operator for regular expression matches.
	RegexOperator string

	// UnboundedLimit is written before OFFSET when no limit is given and the
	// backend requires one. Empty means OFFSET may stand alone.
	UnboundedLimit string

	// ReturningID appends RETURNING to inserts instead of reading LastInsertId.
	ReturningID bool

	// EmptyInsert is the INSERT suffix for a row without explicit columns.
	EmptyInsert string

	// IndexIfNotExists reports support for CREATE INDEX IF NOT EXISTS.
	IndexIfNotExists bool

	// ColumnTypes maps portable field types to column definitions.
	ColumnTypes map[adapter.FieldType]string

	// StringLength is the default VARCHAR length when a string field has no
	// MaxLength. Zero means strings map to the plain ColumnTypes entry.
	StringLength int

	// AutoIncrementKey and StringKey define the primary key column.
	AutoIncrementKey string
	StringKey        string

	// JSONTypeNames are column type names whose values are decoded from JSON text.
	JSONTypeNames []string

	// BoolTypeNames are column type names whose integer values are read as booleans.
	BoolTypeNames []string
}

// Quote quotes an identifier.
func (d *Dialect) Quote(ident string) string {
	escaped := strings.ReplaceAll(ident, d.QuoteClose, d.QuoteClose+d.QuoteClose)
	return d.QuoteOpen + escaped + d.QuoteClose
}

// QuoteAll quotes every identifier and joins them with ", ".
func (d *Dialect) QuoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, ident := range idents {
		quoted[i] = d.Quote(ident)
	}
	return strings.Join(quoted, ", ")
}

func (d *Dialect) placeholder(n int) string {
	if d.Placeholder == Dollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d *Dialect) emptyInsert() string {
	if d.EmptyInsert != "" {
		return d.EmptyInsert
	}
	return " DEFAULT VALUES"
}

// ColumnType returns the column definition for a field.
func (d *Dialect) ColumnType(f adapter.FieldDefinition) (string, error) {
	if f.Type == adapter.FieldString && d.StringLength > 0 {
		n := f.MaxLength
		if n == 0 {
			n = d.StringLength
		}
		return fmt.Sprintf("VARCHAR(%d)", n), nil
	}
	t, ok := d.ColumnTypes[f.Type]
	if !ok {
		return "", adapter.NewUnsupportedOperationError(d.Type, "field type "+string(f.Type), "")
	}
	return t, nil
}

func (d *Dialect) isJSONType(name string) bool {
	return containsFold(d.JSONTypeNames, name)
}

func (d *Dialect) isBoolType(name string) bool {
	return containsFold(d.BoolTypeNames, name)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// SQLite is the dialect of mattn/go-sqlite3.
var SQLite = &Dialect{
	Type:             dbcapabilities.SQLite,
	Placeholder:      Question,
	QuoteOpen:        `"`,
	QuoteClose:       `"`,
	RegexOperator:    "REGEXP",
	UnboundedLimit:   "-1",
	IndexIfNotExists: true,
	ColumnTypes: map[adapter.FieldType]string{
		adapter.FieldString:   "TEXT",
		adapter.FieldText:     "TEXT",
		adapter.FieldInteger:  "INTEGER",
		adapter.FieldFloat:    "REAL",
		adapter.FieldBoolean:  "BOOLEAN",
		adapter.FieldDateTime: "DATETIME",
		adapter.FieldJSON:     "JSON",
	},
	AutoIncrementKey: "INTEGER PRIMARY KEY AUTOINCREMENT",
	StringKey:        "TEXT PRIMARY KEY",
	JSONTypeNames:    []string{"JSON"},
}

// PostgreSQL is the dialect of jackc/pgx.
var PostgreSQL = &Dialect{
	Type:             dbcapabilities.PostgreSQL,
	Placeholder:      Dollar,
	QuoteOpen:        `"`,
	QuoteClose:       `"`,
	RegexOperator:    "~",
	ReturningID:      true,
	IndexIfNotExists: true,
	ColumnTypes: map[adapter.FieldType]string{
		adapter.FieldString:   "TEXT",
		adapter.FieldText:     "TEXT",
		adapter.FieldInteger:  "BIGINT",
		adapter.FieldFloat:    "DOUBLE PRECISION",
		adapter.FieldBoolean:  "BOOLEAN",
		adapter.FieldDateTime: "TIMESTAMPTZ",
		adapter.FieldJSON:     "JSONB",
	},
	AutoIncrementKey: "BIGSERIAL PRIMARY KEY",
	StringKey:        "VARCHAR(64) PRIMARY KEY",
	JSONTypeNames:    []string{"JSON", "JSONB"},
}

// MySQL is the dialect of go-sql-driver/mysql.
var MySQL = &Dialect{
	Type:           dbcapabilities.MySQL,
	Placeholder:    Question,
	QuoteOpen:      "`",
	QuoteClose:     "`",
	RegexOperator:  "REGEXP",
	UnboundedLimit: "18446744073709551615",
	EmptyInsert:    " () VALUES ()",
	ColumnTypes: map[adapter.FieldType]string{
		adapter.FieldText:     "TEXT",
		adapter.FieldInteger:  "BIGINT",
		adapter.FieldFloat:    "DOUBLE",
		adapter.FieldBoolean:  "BOOLEAN",
		adapter.FieldDateTime: "DATETIME(6)",
		adapter.FieldJSON:     "JSON",
	},
	StringLength:     255,
	AutoIncrementKey: "BIGINT AUTO_INCREMENT PRIMARY KEY",
	StringKey:        "VARCHAR(64) PRIMARY KEY",
	JSONTypeNames:    []string{"JSON"},
	BoolTypeNames:    []string{"TINYINT", "BOOL", "BOOLEAN"},
}
