package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/quickdb/pkg/condition"
)

func TestTranslateOperators(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		dialect  *Dialect
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "eq",
			input:    map[string]interface{}{"name": "ann"},
			dialect:  SQLite,
			wantSQL:  `"name" = ?`,
			wantArgs: []interface{}{"ann"},
		},
		{
			name:    "eq nil is null",
			input:   map[string]interface{}{"deleted_at": nil},
			dialect: SQLite,
			wantSQL: `"deleted_at" IS NULL`,
		},
		{
			name:     "ne",
			input:    map[string]interface{}{"field": "age", "operator": "ne", "value": 3},
			dialect:  PostgreSQL,
			wantSQL:  `"age" <> $1`,
			wantArgs: []interface{}{int64(3)},
		},
		{
			name:     "range uses numbered placeholders",
			input:    map[string]interface{}{"age": map[string]interface{}{"gte": 18, "lt": 65}},
			dialect:  PostgreSQL,
			wantSQL:  `("age" >= $1 AND "age" < $2)`,
			wantArgs: []interface{}{int64(18), int64(65)},
		},
		{
			name:     "contains escapes wildcards",
			input:    map[string]interface{}{"field": "name", "operator": "contains", "value": "50%_off!"},
			dialect:  MySQL,
			wantSQL:  "`name` LIKE ? ESCAPE '!'",
			wantArgs: []interface{}{"%50!%!_off!!%"},
		},
		{
			name:     "starts with",
			input:    map[string]interface{}{"field": "name", "operator": "startswith", "value": "an"},
			dialect:  SQLite,
			wantSQL:  `"name" LIKE ? ESCAPE '!'`,
			wantArgs: []interface{}{"an%"},
		},
		{
			name:     "ends with",
			input:    map[string]interface{}{"field": "email", "operator": "endswith", "value": ".org"},
			dialect:  SQLite,
			wantSQL:  `"email" LIKE ? ESCAPE '!'`,
			wantArgs: []interface{}{"%.org"},
		},
		{
			name:     "in",
			input:    map[string]interface{}{"field": "status", "operator": "in", "value": []interface{}{"a", "b"}},
			dialect:  PostgreSQL,
			wantSQL:  `"status" IN ($1, $2)`,
			wantArgs: []interface{}{"a", "b"},
		},
		{
			name:    "empty in matches nothing",
			input:   map[string]interface{}{"field": "status", "operator": "in", "value": []interface{}{}},
			dialect: SQLite,
			wantSQL: "1=0",
		},
		{
			name:    "empty not in matches everything",
			input:   map[string]interface{}{"field": "status", "operator": "notin", "value": []interface{}{}},
			dialect: SQLite,
			wantSQL: "1=1",
		},
		{
			name:     "regex postgres",
			input:    map[string]interface{}{"field": "name", "operator": "regex", "value": "^a"},
			dialect:  PostgreSQL,
			wantSQL:  `"name" ~ $1`,
			wantArgs: []interface{}{"^a"},
		},
		{
			name:     "regex sqlite",
			input:    map[string]interface{}{"field": "name", "operator": "regex", "value": "^a"},
			dialect:  SQLite,
			wantSQL:  `"name" REGEXP ?`,
			wantArgs: []interface{}{"^a"},
		},
		{
			name:    "exists",
			input:   map[string]interface{}{"field": "email", "operator": "exists"},
			dialect: SQLite,
			wantSQL: `"email" IS NOT NULL`,
		},
		{
			name:    "is null",
			input:   map[string]interface{}{"field": "email", "operator": "isnull"},
			dialect: SQLite,
			wantSQL: `"email" IS NULL`,
		},
		{
			name: "or group",
			input: map[string]interface{}{
				"operator": "or",
				"conditions": []interface{}{
					map[string]interface{}{"name": "ann"},
					map[string]interface{}{"name": "bob"},
				},
			},
			dialect:  SQLite,
			wantSQL:  `("name" = ? OR "name" = ?)`,
			wantArgs: []interface{}{"ann", "bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := condition.Normalize(tt.input)
			require.NoError(t, err)

			pred, err := tt.dialect.Translate(node)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, pred.SQL)
			assert.Equal(t, tt.wantArgs, pred.Args)
		})
	}
}

func TestTranslateNilMatchesEverything(t *testing.T) {
	pred, err := SQLite.Translate(nil)
	require.NoError(t, err)
	assert.Empty(t, pred.SQL)
	assert.Empty(t, pred.Args)
}

func TestTranslateRejectsUnsafeFields(t *testing.T) {
	_, err := SQLite.Translate(condition.Leaf(`name" OR 1=1 --`, condition.Eq, "x"))
	assert.Error(t, err)
}
