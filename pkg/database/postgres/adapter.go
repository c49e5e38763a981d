// Package postgres implements the PostgreSQL backend on jackc/pgx. Each
// pool connection is a single *pgx.Conn; pooling is done by the caller.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
	"github.com/redbco/quickdb/pkg/database/common"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

// SQLSTATE codes recognised by the error classifier.
const (
	codeUndefinedTable = "42P01"
	codeDuplicateTable = "42P07"
	classIntegrity     = "23"
)

// Adapter implements the adapter.DatabaseAdapter interface for PostgreSQL.
type Adapter struct {
	engine *common.Engine
}

// NewAdapter creates a new PostgreSQL adapter.
func NewAdapter() adapter.DatabaseAdapter {
	return &Adapter{
		engine: &common.Engine{
			Dialect: common.PostgreSQL,
			Errors: common.ErrorClassifier{
				MissingTable:   hasCode(codeUndefinedTable),
				Constraint:     isConstraint,
				Broken:         isBroken,
				DuplicateIndex: hasCode(codeDuplicateTable),
			},
		},
	}
}

// Type returns the database type identifier.
func (a *Adapter) Type() dbcapabilities.DatabaseType {
	return dbcapabilities.PostgreSQL
}

// Capabilities returns the capabilities metadata for PostgreSQL.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.PostgreSQL)
}

// Connect establishes a connection to a PostgreSQL database.
func (a *Adapter) Connect(ctx context.Context, config adapter.ConnectionConfig) (adapter.Connection, error) {
	connString, err := buildConnString(config)
	if err != nil {
		return nil, err
	}
	pgConfig, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, adapter.NewConfigurationError(dbcapabilities.PostgreSQL, "connection", err.Error())
	}
	pgConfig.ConnectTimeout = config.Timeout()

	conn, err := pgx.ConnectConfig(ctx, pgConfig)
	if err != nil {
		return nil, adapter.NewConnectionError(
			dbcapabilities.PostgreSQL,
			config.Host,
			config.Port,
			fmt.Errorf("error connecting to database: %w", err),
		)
	}

	// Test the connection
	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout())
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close(context.Background())
		return nil, adapter.NewConnectionError(
			dbcapabilities.PostgreSQL,
			config.Host,
			config.Port,
			fmt.Errorf("error pinging database: %w", err),
		)
	}

	return &Connection{
		id:        uuid.NewString(),
		conn:      conn,
		config:    config,
		connected: 1,
	}, nil
}

// buildConnString renders config as a postgres:// URL. The URL is always
// rebuilt from the discrete fields so that resolved secrets take effect.
func buildConnString(config adapter.ConnectionConfig) (string, error) {
	if config.Host == "" {
		return "", adapter.NewConfigurationError(dbcapabilities.PostgreSQL, "host", "host is required")
	}
	port := config.Port
	if port == 0 {
		port = dbcapabilities.MustGet(dbcapabilities.PostgreSQL).DefaultPort
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(config.Host, strconv.Itoa(port)),
		Path:   "/" + config.DatabaseName,
	}
	if config.Username != "" {
		u.User = url.UserPassword(config.Username, config.Password)
	}

	q := url.Values{}
	for k, v := range config.Options {
		q.Set(k, v)
	}
	q.Set("sslmode", sslMode(config))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sslMode returns the appropriate SSL mode for the connection.
func sslMode(config adapter.ConnectionConfig) string {
	if config.SSLMode != "" {
		return config.SSLMode
	}
	if config.SSL {
		return "require"
	}
	return "disable"
}

func (a *Adapter) connection(conn adapter.Connection) (*Connection, error) {
	c, ok := conn.(*Connection)
	if !ok {
		return nil, adapter.NewConfigurationError(dbcapabilities.PostgreSQL, "connection", "connection was not opened by this adapter")
	}
	if !c.IsConnected() {
		return nil, adapter.NewConnectionError(dbcapabilities.PostgreSQL, c.config.Host, c.config.Port, adapter.ErrConnectionClosed)
	}
	return c, nil
}

// Execute runs one request on conn.
func (a *Adapter) Execute(ctx context.Context, conn adapter.Connection, req *adapter.Request) (*adapter.Result, error) {
	c, err := a.connection(conn)
	if err != nil {
		return nil, err
	}
	return a.engine.Execute(ctx, newExecutor(c.conn), req)
}

// Translate converts a condition into a common.Predicate with $n placeholders.
func (a *Adapter) Translate(cond *condition.Node) (interface{}, error) {
	return a.engine.Translate(cond)
}

// EnsureSchema creates the table and indexes of schema if missing.
func (a *Adapter) EnsureSchema(ctx context.Context, conn adapter.Connection, schema *adapter.Schema) error {
	c, err := a.connection(conn)
	if err != nil {
		return err
	}
	return a.engine.EnsureSchema(ctx, newExecutor(c.conn), schema)
}

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	ok := errors.As(err, &pgErr)
	return pgErr, ok
}

func hasCode(code string) func(error) bool {
	return func(err error) bool {
		pgErr, ok := pgError(err)
		return ok && pgErr.Code == code
	}
}

func isConstraint(err error) bool {
	pgErr, ok := pgError(err)
	return ok && strings.HasPrefix(pgErr.Code, classIntegrity)
}

// isBroken reports errors after which the session cannot be trusted. A
// server-side error means the session is still usable.
func isBroken(err error) bool {
	if _, ok := pgError(err); ok {
		return false
	}
	var netErr net.Error
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &netErr) ||
		strings.Contains(err.Error(), "conn closed")
}
