// Package mysql implements the MySQL and MariaDB backend on
// go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
	"github.com/redbco/quickdb/pkg/database/common"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

// Server error numbers recognised by the error classifier.
const (
	errNoSuchTable  = 1146
	errDupKeyName   = 1061
	errDupEntry     = 1062
	errNoReferenced = 1452
	errRowIsRefd    = 1451
)

// Adapter implements the adapter.DatabaseAdapter interface for MySQL.
type Adapter struct {
	engine *common.Engine
}

// NewAdapter creates a new MySQL adapter.
func NewAdapter() adapter.DatabaseAdapter {
	return &Adapter{
		engine: &common.Engine{
			Dialect: common.MySQL,
			Errors: common.ErrorClassifier{
				MissingTable:   hasNumber(errNoSuchTable),
				Constraint:     hasNumber(errDupEntry, errNoReferenced, errRowIsRefd),
				Broken:         isBroken,
				DuplicateIndex: hasNumber(errDupKeyName),
			},
		},
	}
}

// Type returns the database type identifier.
func (a *Adapter) Type() dbcapabilities.DatabaseType {
	return dbcapabilities.MySQL
}

// Capabilities returns the capabilities metadata for MySQL.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.MySQL)
}

// Connect establishes a connection to a MySQL database.
func (a *Adapter) Connect(ctx context.Context, config adapter.ConnectionConfig) (adapter.Connection, error) {
	cfg, err := buildConfig(config)
	if err != nil {
		return nil, err
	}
	connector, err := mysqldrv.NewConnector(cfg)
	if err != nil {
		return nil, adapter.NewConfigurationError(dbcapabilities.MySQL, "connection", err.Error())
	}
	db := sql.OpenDB(connector)
	conn := common.NewSQLConnection(uuid.NewString(), dbcapabilities.MySQL, db)

	// Test the connection
	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, adapter.NewConnectionError(
			dbcapabilities.MySQL,
			config.Host,
			config.Port,
			fmt.Errorf("failed to ping MySQL database: %w", err),
		)
	}
	return conn, nil
}

// buildConfig maps config onto the driver configuration. parseTime is
// always on so DATETIME columns come back as time.Time, and affected row
// counts report matched rows like the other backends.
func buildConfig(config adapter.ConnectionConfig) (*mysqldrv.Config, error) {
	if config.Host == "" {
		return nil, adapter.NewConfigurationError(dbcapabilities.MySQL, "host", "host is required")
	}
	port := config.Port
	if port == 0 {
		port = dbcapabilities.MustGet(dbcapabilities.MySQL).DefaultPort
	}

	cfg := mysqldrv.NewConfig()
	cfg.User = config.Username
	cfg.Passwd = config.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(config.Host, strconv.Itoa(port))
	cfg.DBName = config.DatabaseName
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = config.Timeout()
	cfg.ClientFoundRows = true

	switch {
	case config.SSLMode == "skip-verify":
		cfg.TLSConfig = "skip-verify"
	case config.SSL:
		cfg.TLSConfig = "true"
	}

	// Remaining options are sent as session variables.
	for k, v := range config.Options {
		switch k {
		case "tls", "parseTime", "loc", "timeout", "charset":
			continue
		}
		if cfg.Params == nil {
			cfg.Params = make(map[string]string)
		}
		cfg.Params[k] = v
	}
	return cfg, nil
}

// Execute runs one request on conn.
func (a *Adapter) Execute(ctx context.Context, conn adapter.Connection, req *adapter.Request) (*adapter.Result, error) {
	c, err := common.AsSQLConnection(conn, dbcapabilities.MySQL)
	if err != nil {
		return nil, err
	}
	return a.engine.Execute(ctx, common.NewSQLExecutor(c.DB(), common.MySQL), req)
}

// Translate converts a condition into a common.Predicate.
func (a *Adapter) Translate(cond *condition.Node) (interface{}, error) {
	return a.engine.Translate(cond)
}

// EnsureSchema creates the table and indexes of schema if missing. MySQL
// has no CREATE INDEX IF NOT EXISTS; duplicate key names are ignored.
func (a *Adapter) EnsureSchema(ctx context.Context, conn adapter.Connection, schema *adapter.Schema) error {
	c, err := common.AsSQLConnection(conn, dbcapabilities.MySQL)
	if err != nil {
		return err
	}
	return a.engine.EnsureSchema(ctx, common.NewSQLExecutor(c.DB(), common.MySQL), schema)
}

func hasNumber(numbers ...uint16) func(error) bool {
	return func(err error) bool {
		var myErr *mysqldrv.MySQLError
		if !errors.As(err, &myErr) {
			return false
		}
		for _, n := range numbers {
			if myErr.Number == n {
				return true
			}
		}
		return false
	}
}

func isBroken(err error) bool {
	var netErr net.Error
	return errors.Is(err, mysqldrv.ErrInvalidConn) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr)
}
