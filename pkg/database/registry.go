// Package database wires the backend adapters together and provides the
// Redis client used by the second cache tier.
package database

import (
	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/database/mongodb"
	"github.com/redbco/quickdb/pkg/database/mysql"
	"github.com/redbco/quickdb/pkg/database/postgres"
	"github.com/redbco/quickdb/pkg/database/sqlite"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry() *adapter.Registry {
	reg := adapter.NewRegistry()
	reg.Register(dbcapabilities.SQLite, sqlite.NewAdapter)
	reg.Register(dbcapabilities.PostgreSQL, postgres.NewAdapter)
	reg.Register(dbcapabilities.MySQL, mysql.NewAdapter)
	reg.Register(dbcapabilities.MongoDB, mongodb.NewAdapter)
	return reg
}
