package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/quickdb/pkg/adapter"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
databases:
  - alias: main
    type: sqlite
    path: %s
`, filepath.Join(dir, "main.db"))
	path := filepath.Join(dir, "quickdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRecordCommands(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, "-c", cfg, "create", "users", "--data", `{"name": "Ann", "age": 31}`)
	require.NoError(t, err)
	_, err = run(t, "-c", cfg, "create-many", "users", "--data", `[{"name": "Bob", "age": 17}, {"name": "Cy", "age": 45}]`)
	require.NoError(t, err)

	out, err := run(t, "-c", cfg, "--pretty=false", "count", "users", "--where", `{"age": {"gte": 18}}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count": 2}`, strings.TrimSpace(out))

	out, err = run(t, "-c", cfg, "--pretty=false", "find", "users", "--sort", "age:desc", "--limit", "1", "--fields", "name")
	require.NoError(t, err)
	var found []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "Cy", found[0]["name"])

	_, err = run(t, "-c", cfg, "delete", "users")
	assert.ErrorIs(t, err, errNoCondition)

	out, err = run(t, "-c", cfg, "--pretty=false", "delete", "users", "--all")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted": 3}`, strings.TrimSpace(out))
}

func TestListDatabases(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "-c", cfg, "--pretty=false", "databases", "list")
	require.NoError(t, err)

	var dbs []databaseInfo
	require.NoError(t, json.Unmarshal([]byte(out), &dbs))
	require.Len(t, dbs, 1)
	assert.Equal(t, "main", dbs[0].Alias)
	assert.Equal(t, "sqlite", dbs[0].Type)
	assert.True(t, dbs[0].Default)
}

func TestMissingConfig(t *testing.T) {
	_, err := run(t, "-c", filepath.Join(t.TempDir(), "absent.yaml"), "count", "users")
	assert.Error(t, err)
}

func TestParseRecord(t *testing.T) {
	rec, err := parseRecord(`{"n": 3, "f": 1.5, "tags": [1, "a"], "nested": {"k": 2}}`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec["n"])
	assert.Equal(t, 1.5, rec["f"])
	assert.Equal(t, []interface{}{int64(1), "a"}, rec["tags"])
	assert.Equal(t, map[string]interface{}{"k": int64(2)}, rec["nested"])

	for _, bad := range []string{"", "null", "[1]", "{"} {
		_, err := parseRecord(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseRecords(t *testing.T) {
	recs, err := parseRecords(`[{"a": 1}, {"a": 2}]`)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[1]["a"])

	_, err = parseRecords(`[{"a": 1}, null]`)
	assert.Error(t, err)
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		name    string
		specs   []string
		want    []adapter.SortField
		wantErr bool
	}{
		{
			name:  "default ascending",
			specs: []string{"name"},
			want:  []adapter.SortField{{Field: "name", Direction: adapter.Ascending}},
		},
		{
			name:  "mixed",
			specs: []string{"age:DESC", "name:asc"},
			want: []adapter.SortField{
				{Field: "age", Direction: adapter.Descending},
				{Field: "name", Direction: adapter.Ascending},
			},
		},
		{
			name:    "bad direction",
			specs:   []string{"age:down"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSort(tt.specs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
