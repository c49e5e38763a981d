// Package config loads the quickdb YAML configuration: logging, the default
// alias and one entry per logical database.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/cache"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
	"github.com/redbco/quickdb/pkg/idgen"
	"github.com/redbco/quickdb/pkg/keyring"
	"github.com/redbco/quickdb/pkg/logger"
	"github.com/redbco/quickdb/pkg/pool"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root of a configuration file.
type Config struct {
	Logging logger.Config `yaml:"logging"`
	// DefaultAlias is used by operations that do not name an alias. When
	// empty the first database is the default.
	DefaultAlias string           `yaml:"default_alias"`
	Databases    []DatabaseConfig `yaml:"databases"`
}

// DatabaseConfig describes one logical database. Either URL or the discrete
// connection fields are used; when URL is set and Type is too, they must
// agree.
type DatabaseConfig struct {
	Alias string `yaml:"alias"`
	Type  string `yaml:"type"`
	URL   string `yaml:"url"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	// Password may be a keyring:service/user reference.
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	Path     string            `yaml:"path"`
	SSL      bool              `yaml:"ssl"`
	SSLMode  string            `yaml:"ssl_mode"`
	Options  map[string]string `yaml:"options"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	Pool pool.Config `yaml:"pool"`
	// Cache is nil when the alias is not cached.
	Cache      *cache.Config  `yaml:"cache"`
	IDStrategy idgen.Strategy `yaml:"id_strategy"`
}

// DefaultDatabaseConfig returns the defaults applied to every database entry.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Pool:       pool.DefaultConfig(),
		IDStrategy: idgen.DefaultStrategy(),
	}
}

// UnmarshalYAML starts every entry from DefaultDatabaseConfig so a missing
// min_connections keeps its default of 1 while an explicit 0 is honoured.
func (d *DatabaseConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain DatabaseConfig
	p := plain(DefaultDatabaseConfig())
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = DatabaseConfig(p)
	return nil
}

// Load reads, defaults and validates the file at path. Keyring references
// are resolved against the default keyring store.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if cfg.hasSecretReferences() {
		store := keyring.NewStore(keyring.DefaultPath(), keyring.MasterPasswordFromEnv())
		if err := cfg.ResolveSecrets(store); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates. Unknown keys are an
// error. Secrets are left unresolved.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset values in place.
func (c *Config) ApplyDefaults() {
	for i := range c.Databases {
		c.Databases[i].ApplyDefaults()
	}
	if c.DefaultAlias == "" && len(c.Databases) > 0 {
		c.DefaultAlias = c.Databases[0].Alias
	}
}

// ApplyDefaults fills unset pool, cache and id strategy values.
func (d *DatabaseConfig) ApplyDefaults() {
	d.Pool = d.Pool.WithDefaults()
	d.IDStrategy = d.IDStrategy.Normalized()
	if d.Cache != nil {
		c := d.Cache.WithDefaults()
		d.Cache = &c
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	seen := make(map[string]bool, len(c.Databases))
	for i := range c.Databases {
		d := &c.Databases[i]
		if err := d.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("databases[%d]: %w", i, err))
		}
		if d.Alias == "" {
			continue
		}
		if seen[d.Alias] {
			result = multierror.Append(result, fmt.Errorf("%w: databases[%d]: duplicate alias '%s'", ErrInvalidConfig, i, d.Alias))
		}
		seen[d.Alias] = true
	}
	if c.DefaultAlias != "" && len(c.Databases) > 0 && !seen[c.DefaultAlias] {
		result = multierror.Append(result, fmt.Errorf("%w: default_alias '%s' is not configured", ErrInvalidConfig, c.DefaultAlias))
	}
	return result.ErrorOrNil()
}

// Validate checks one database entry after defaults are applied.
func (d *DatabaseConfig) Validate() error {
	if strings.TrimSpace(d.Alias) == "" {
		return fmt.Errorf("%w: alias is required", ErrInvalidConfig)
	}
	if strings.ContainsAny(d.Alias, ": \t\n") {
		return fmt.Errorf("%w: alias '%s' must not contain ':' or whitespace", ErrInvalidConfig, d.Alias)
	}
	if keyring.IsReference(d.URL) {
		// Checked again once the url is resolved.
		if _, err := d.DatabaseType(); err != nil {
			return err
		}
	} else if _, err := d.ConnectionConfig(); err != nil {
		return err
	}
	if err := d.Pool.Validate(); err != nil {
		return fmt.Errorf("alias '%s': %w", d.Alias, err)
	}
	if d.Cache != nil {
		if err := d.Cache.Validate(); err != nil {
			return fmt.Errorf("alias '%s': %w", d.Alias, err)
		}
	}
	if err := d.IDStrategy.Validate(); err != nil {
		return fmt.Errorf("alias '%s': %w", d.Alias, err)
	}
	return nil
}

// DatabaseType resolves the backend from Type or the URL scheme.
func (d *DatabaseConfig) DatabaseType() (dbcapabilities.DatabaseType, error) {
	if d.Type != "" {
		t, ok := dbcapabilities.ParseID(d.Type)
		if !ok {
			return "", fmt.Errorf("%w: unknown database type '%s'", ErrInvalidConfig, d.Type)
		}
		return t, nil
	}
	if d.URL != "" && !keyring.IsReference(d.URL) {
		details, err := dbcapabilities.ParseConnectionString(d.URL)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return details.DatabaseType, nil
	}
	return "", fmt.Errorf("%w: alias '%s' needs a type or a url", ErrInvalidConfig, d.Alias)
}

// ConnectionConfig converts the entry to the adapter's connection settings.
func (d *DatabaseConfig) ConnectionConfig() (adapter.ConnectionConfig, error) {
	if keyring.IsReference(d.URL) {
		return adapter.ConnectionConfig{}, fmt.Errorf("%w: alias '%s' has an unresolved keyring url", ErrInvalidConfig, d.Alias)
	}

	var cc adapter.ConnectionConfig
	if d.URL != "" {
		details, err := dbcapabilities.ParseConnectionString(d.URL)
		if err != nil {
			return cc, fmt.Errorf("%w: alias '%s': %v", ErrInvalidConfig, d.Alias, err)
		}
		if d.Type != "" {
			t, ok := dbcapabilities.ParseID(d.Type)
			if !ok || t != details.DatabaseType {
				return cc, fmt.Errorf("%w: alias '%s': type '%s' does not match url scheme '%s'",
					ErrInvalidConfig, d.Alias, d.Type, details.DatabaseType)
			}
		}
		cc = adapter.FromDetails(d.Alias, details)
		if d.Password != "" {
			cc.Password = d.Password
		}
	} else {
		t, err := d.DatabaseType()
		if err != nil {
			return cc, err
		}
		cc = adapter.ConnectionConfig{
			Alias:        d.Alias,
			DatabaseType: t,
			Host:         d.Host,
			Port:         d.Port,
			Username:     d.Username,
			Password:     d.Password,
			DatabaseName: d.Database,
			Path:         d.Path,
			SSL:          d.SSL,
			SSLMode:      d.SSLMode,
		}
		capability := dbcapabilities.MustGet(t)
		if capability.Embedded {
			if cc.Path == "" && cc.DatabaseName == "" {
				return cc, fmt.Errorf("%w: alias '%s': %s needs a path", ErrInvalidConfig, d.Alias, capability.Name)
			}
		} else {
			if cc.Host == "" {
				return cc, fmt.Errorf("%w: alias '%s': %s needs a host", ErrInvalidConfig, d.Alias, capability.Name)
			}
			if cc.Port == 0 {
				cc.Port = capability.DefaultPort
			}
		}
	}

	if cc.Options == nil {
		cc.Options = make(map[string]string, len(d.Options))
	}
	for k, v := range d.Options {
		cc.Options[k] = v
	}
	cc.ConnectTimeout = d.ConnectTimeout
	cc.IDStrategy = d.IDStrategy.Normalized()
	return cc, nil
}

// IsPlaintextRemote reports whether the entry reaches a public host without
// TLS.
func (d *DatabaseConfig) IsPlaintextRemote() bool {
	cc, err := d.ConnectionConfig()
	if err != nil {
		return false
	}
	details := &dbcapabilities.ConnectionDetails{Host: cc.Host, SSL: cc.SSL}
	return details.IsPlaintextRemote()
}

// ResolveSecrets replaces keyring references in passwords and URLs.
func (c *Config) ResolveSecrets(store *keyring.Store) error {
	var result *multierror.Error
	for i := range c.Databases {
		if err := c.Databases[i].ResolveSecrets(store); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ResolveSecrets replaces keyring references in this entry.
func (d *DatabaseConfig) ResolveSecrets(store *keyring.Store) error {
	fields := []*string{&d.Password, &d.URL}
	if d.Cache != nil {
		fields = append(fields, &d.Cache.L2.URL)
	}
	for _, f := range fields {
		v, err := store.Resolve(*f)
		if err != nil {
			return fmt.Errorf("alias '%s': %w", d.Alias, err)
		}
		*f = v
	}
	return nil
}

func (c *Config) hasSecretReferences() bool {
	for _, d := range c.Databases {
		if keyring.IsReference(d.Password) || keyring.IsReference(d.URL) {
			return true
		}
		if d.Cache != nil && keyring.IsReference(d.Cache.L2.URL) {
			return true
		}
	}
	return false
}

// Database returns the entry for alias.
func (c *Config) Database(alias string) (DatabaseConfig, bool) {
	for _, d := range c.Databases {
		if d.Alias == alias {
			return d, true
		}
	}
	return DatabaseConfig{}, false
}
