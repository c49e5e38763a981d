// Package adapter defines the contract between the quickdb dispatch core and
// the database backends.
//
// # Architecture
//
//   - DatabaseAdapter: implemented once per backend (sqlite, postgres, mysql, mongodb)
//   - Connection: one open session, owned by exactly one pool worker
//   - Request / Result: the operation envelope that travels through the pool
//   - Schema: an explicit model definition built in code
//   - Registry: maps a DatabaseType to a Factory
//
// # Usage
//
// Registries are explicit values. Build one and hand it to the facade:
//
//	reg := adapter.NewRegistry()
//	reg.Register(dbcapabilities.SQLite, sqlite.NewAdapter)
//
//	a, err := reg.New(dbcapabilities.SQLite)
//	if err != nil {
//	    return err
//	}
//	conn, err := a.Connect(ctx, adapter.ConnectionConfig{
//	    DatabaseType: dbcapabilities.SQLite,
//	    Path:         ":memory:",
//	})
//
// Models are declared with the Schema builder:
//
//	users := adapter.NewSchema("users").
//	    Field("name", adapter.FieldString, adapter.Required()).
//	    Field("email", adapter.FieldString, adapter.Unique()).
//	    Field("age", adapter.FieldInteger).
//	    Index("age")
//
// # Error Handling
//
// The adapter package provides standardized error types:
//
//   - QueryError: the backend failed a statement
//   - ConstraintError: a write violated a unique or not-null constraint
//   - ConnectionError: the connection could not be opened or broke
//   - ConfigurationError: the configuration is invalid
//   - NotFoundError: a table or record does not exist
//   - UnsupportedOperationError: the backend cannot perform the operation
//
// Use errors.Is with the package sentinels, or the IsXxx helpers:
//
//	if adapter.IsConstraintViolation(err) {
//	    // duplicate key
//	}
//
// # Thread Safety
//
// Registry is safe for concurrent use. Adapters must be safe for concurrent
// use across connections; a single Connection is never used concurrently.
package adapter
