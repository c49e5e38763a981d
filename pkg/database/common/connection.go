package common

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

// SQLConnection implements adapter.Connection over a database/sql handle
// limited to a single physical connection.
type SQLConnection struct {
	id        string
	db        *sql.DB
	dbType    dbcapabilities.DatabaseType
	connected int32
}

// NewSQLConnection wraps db. The handle is pinned to one open connection so
// that the pool's ownership rules hold for the driver session as well.
func NewSQLConnection(id string, dbType dbcapabilities.DatabaseType, db *sql.DB) *SQLConnection {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return &SQLConnection{id: id, db: db, dbType: dbType, connected: 1}
}

// ID returns the connection identifier.
func (c *SQLConnection) ID() string {
	return c.id
}

// Type returns the database type.
func (c *SQLConnection) Type() dbcapabilities.DatabaseType {
	return c.dbType
}

// IsConnected reports whether Close has not been called.
func (c *SQLConnection) IsConnected() bool {
	return atomic.LoadInt32(&c.connected) == 1
}

// Ping checks the session is alive.
func (c *SQLConnection) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return adapter.ErrConnectionClosed
	}
	if err := c.db.PingContext(ctx); err != nil {
		return adapter.NewConnectionError(c.dbType, "", 0, err)
	}
	return nil
}

// Close closes the handle. It is safe to call more than once.
func (c *SQLConnection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return nil
	}
	return c.db.Close()
}

// Raw returns the *sql.DB.
func (c *SQLConnection) Raw() interface{} {
	return c.db
}

// DB returns the *sql.DB.
func (c *SQLConnection) DB() *sql.DB {
	return c.db
}

// AsSQLConnection asserts that conn was produced by a database/sql backend
// of the given type.
func AsSQLConnection(conn adapter.Connection, dbType dbcapabilities.DatabaseType) (*SQLConnection, error) {
	c, ok := conn.(*SQLConnection)
	if !ok || c.dbType != dbType {
		return nil, adapter.NewConfigurationError(dbType, "connection", "connection was not opened by this adapter")
	}
	if !c.IsConnected() {
		return nil, adapter.NewConnectionError(dbType, "", 0, adapter.ErrConnectionClosed)
	}
	return c, nil
}
