package adapter

import (
	"time"

	"github.com/redbco/quickdb/pkg/dbcapabilities"
	"github.com/redbco/quickdb/pkg/idgen"
)

// ConnectionConfig contains the configuration for a database connection.
// This is a unified configuration that works across all database types.
type ConnectionConfig struct {
	// Alias of the logical database this connection belongs to
	Alias string `json:"alias"`

	// Database type
	DatabaseType dbcapabilities.DatabaseType `json:"databaseType"`

	// Connection details
	Host         string `json:"host,omitempty"`
	Port         int    `json:"port,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	DatabaseName string `json:"databaseName,omitempty"`

	// Path is the database file for embedded databases
	Path string `json:"path,omitempty"`

	// URI, when set, is passed to drivers that accept a full connection string
	URI string `json:"-"`

	// SSL/TLS configuration
	SSL     bool   `json:"ssl,omitempty"`
	SSLMode string `json:"sslMode,omitempty"` // disable, prefer, require, verify-full

	// ConnectTimeout bounds the dial and the initial ping
	ConnectTimeout time.Duration `json:"connectTimeout,omitempty"`

	// IDStrategy drives the primary key column type
	IDStrategy idgen.Strategy `json:"idStrategy"`

	// Database-specific options (use sparingly)
	Options map[string]string `json:"options,omitempty"`
}

// FromDetails builds a ConnectionConfig from a parsed connection URL.
func FromDetails(alias string, d *dbcapabilities.ConnectionDetails) ConnectionConfig {
	opts := make(map[string]string, len(d.Parameters))
	for k, v := range d.Parameters {
		opts[k] = v
	}
	return ConnectionConfig{
		Alias:        alias,
		DatabaseType: d.DatabaseType,
		Host:         d.Host,
		Port:         d.Port,
		Username:     d.Username,
		Password:     d.Password,
		DatabaseName: d.DatabaseName,
		Path:         d.Path,
		URI:          d.URI,
		SSL:          d.SSL,
		SSLMode:      d.SSLMode,
		Options:      opts,
	}
}

// Option returns the named option or def.
func (c ConnectionConfig) Option(name, def string) string {
	if v, ok := c.Options[name]; ok && v != "" {
		return v
	}
	return def
}

// Timeout returns ConnectTimeout or a 10 second default.
func (c ConnectionConfig) Timeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return 10 * time.Second
}
