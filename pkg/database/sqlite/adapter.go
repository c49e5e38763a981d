// Package sqlite implements the SQLite backend on mattn/go-sqlite3.
//
// Every adapter instance owns its own in-memory database: two aliases that
// both point at ":memory:" never see each other's tables.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
	"github.com/redbco/quickdb/pkg/database/common"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

const busyTimeoutMillis = "5000"

// Adapter implements the adapter.DatabaseAdapter interface for SQLite.
type Adapter struct {
	engine *common.Engine

	// memoryName names the shared-cache memory database of this instance.
	memoryName string

	// memMu serializes statements once memory is set. Shared-cache
	// connections fail with SQLITE_LOCKED instead of honouring busy_timeout.
	memory atomic.Bool
	memMu  sync.Mutex
}

// NewAdapter creates a new SQLite adapter.
func NewAdapter() adapter.DatabaseAdapter {
	return &Adapter{
		engine: &common.Engine{
			Dialect: common.SQLite,
			Errors: common.ErrorClassifier{
				MissingTable: isMissingTable,
				Constraint:   isConstraint,
				Broken:       isBroken,
			},
		},
		memoryName: "quickdb-" + uuid.NewString(),
	}
}

// Type returns the database type identifier.
func (a *Adapter) Type() dbcapabilities.DatabaseType {
	return dbcapabilities.SQLite
}

// Capabilities returns the capabilities metadata for SQLite.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.SQLite)
}

// Connect opens one SQLite connection.
func (a *Adapter) Connect(ctx context.Context, config adapter.ConnectionConfig) (adapter.Connection, error) {
	dsn, err := a.dsn(config)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, adapter.NewConnectionError(dbcapabilities.SQLite, "", 0,
			fmt.Errorf("error opening database: %w", err))
	}
	conn := common.NewSQLConnection(uuid.NewString(), dbcapabilities.SQLite, db)

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, adapter.NewConnectionError(dbcapabilities.SQLite, "", 0,
			fmt.Errorf("error pinging database: %w", err))
	}
	return conn, nil
}

// dsn builds the go-sqlite3 connection string.
func (a *Adapter) dsn(config adapter.ConnectionConfig) (string, error) {
	path := config.Path
	if path == "" && config.DatabaseName == dbcapabilities.MemoryPath {
		path = dbcapabilities.MemoryPath
	}
	if path == "" {
		return "", adapter.NewConfigurationError(dbcapabilities.SQLite, "path", "database path is required")
	}

	params := url.Values{}
	params.Set("_busy_timeout", config.Option("busy_timeout", busyTimeoutMillis))
	if path == dbcapabilities.MemoryPath {
		params.Set("mode", "memory")
		params.Set("cache", "shared")
		a.memory.Store(true)
		return "file:" + a.memoryName + "?" + params.Encode(), nil
	}
	params.Set("_journal_mode", config.Option("journal_mode", "WAL"))
	params.Set("_foreign_keys", "on")
	return "file:" + path + "?" + params.Encode(), nil
}

func (a *Adapter) lock() func() {
	if !a.memory.Load() {
		return func() {}
	}
	a.memMu.Lock()
	return a.memMu.Unlock
}

// Execute runs one request on conn.
func (a *Adapter) Execute(ctx context.Context, conn adapter.Connection, req *adapter.Request) (*adapter.Result, error) {
	c, err := common.AsSQLConnection(conn, dbcapabilities.SQLite)
	if err != nil {
		return nil, err
	}
	defer a.lock()()
	return a.engine.Execute(ctx, common.NewSQLExecutor(c.DB(), common.SQLite), req)
}

// Translate converts a condition into a common.Predicate.
func (a *Adapter) Translate(cond *condition.Node) (interface{}, error) {
	return a.engine.Translate(cond)
}

// EnsureSchema creates the table and indexes of schema if missing.
func (a *Adapter) EnsureSchema(ctx context.Context, conn adapter.Connection, schema *adapter.Schema) error {
	c, err := common.AsSQLConnection(conn, dbcapabilities.SQLite)
	if err != nil {
		return err
	}
	defer a.lock()()
	return a.engine.EnsureSchema(ctx, common.NewSQLExecutor(c.DB(), common.SQLite), schema)
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func isBroken(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		strings.Contains(err.Error(), "database is closed")
}
