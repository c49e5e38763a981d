package adapter

import (
	"context"

	"github.com/redbco/quickdb/pkg/condition"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

// DatabaseAdapter is the contract every backend implements.
//
// The caller guarantees that a Connection is used by one request at a time
// and that every condition handed to Execute or Translate has already been
// validated by the condition package.
type DatabaseAdapter interface {
	// Type returns the canonical database type identifier
	Type() dbcapabilities.DatabaseType

	// Capabilities returns the capability metadata for this database type
	Capabilities() dbcapabilities.Capability

	// Connect opens a single connection. Pools call it once per slot.
	Connect(ctx context.Context, config ConnectionConfig) (Connection, error)

	// Execute runs one request on conn.
	Execute(ctx context.Context, conn Connection, req *Request) (*Result, error)

	// Translate converts a condition tree into the backend's native predicate
	// form (a SQL fragment with arguments, or a BSON filter).
	Translate(cond *condition.Node) (interface{}, error)

	// EnsureSchema creates the table or collection described by schema if it
	// does not exist. It must be idempotent.
	EnsureSchema(ctx context.Context, conn Connection, schema *Schema) error
}

// Connection represents one open session with a backend. It is owned by a
// single pool worker for its whole life.
type Connection interface {
	// Identity and status
	ID() string
	Type() dbcapabilities.DatabaseType
	IsConnected() bool

	// Lifecycle management
	Ping(ctx context.Context) error
	Close() error

	// Raw returns the underlying driver object. Type assertion is required.
	Raw() interface{}
}

// Factory creates a fresh adapter instance. Each pool gets its own instance
// so that adapters may keep per-pool state.
type Factory func() DatabaseAdapter
