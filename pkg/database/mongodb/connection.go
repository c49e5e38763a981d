package mongodb

import (
	"context"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

// Connection implements adapter.Connection for MongoDB. Each connection
// owns a client limited to one socket.
type Connection struct {
	id        string
	client    *mongo.Client
	db        *mongo.Database
	config    adapter.ConnectionConfig
	connected int32
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Type returns the database type.
func (c *Connection) Type() dbcapabilities.DatabaseType {
	return dbcapabilities.MongoDB
}

// IsConnected returns whether the connection is active.
func (c *Connection) IsConnected() bool {
	return atomic.LoadInt32(&c.connected) == 1
}

// Ping checks if the connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return adapter.ErrConnectionClosed
	}
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return adapter.NewConnectionError(dbcapabilities.MongoDB, c.config.Host, c.config.Port, err)
	}
	return nil
}

// Close disconnects the client.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout())
	defer cancel()
	return c.client.Disconnect(ctx)
}

// Raw returns the *mongo.Database.
func (c *Connection) Raw() interface{} {
	return c.db
}
