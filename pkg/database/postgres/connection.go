package postgres

import (
	"context"
	"sync/atomic"

	"github.com/jackc/pgx/v5"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

// Connection implements adapter.Connection for PostgreSQL.
type Connection struct {
	id        string
	conn      *pgx.Conn
	config    adapter.ConnectionConfig
	connected int32
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Type returns the database type.
func (c *Connection) Type() dbcapabilities.DatabaseType {
	return dbcapabilities.PostgreSQL
}

// IsConnected returns whether the connection is active.
func (c *Connection) IsConnected() bool {
	return atomic.LoadInt32(&c.connected) == 1 && !c.conn.IsClosed()
}

// Ping checks if the connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return adapter.ErrConnectionClosed
	}
	if err := c.conn.Ping(ctx); err != nil {
		return adapter.NewConnectionError(dbcapabilities.PostgreSQL, c.config.Host, c.config.Port, err)
	}
	return nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout())
	defer cancel()
	return c.conn.Close(ctx)
}

// Raw returns the underlying *pgx.Conn.
func (c *Connection) Raw() interface{} {
	return c.conn
}
