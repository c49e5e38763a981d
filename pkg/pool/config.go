package pool

import (
	"fmt"
	"time"
)

// Config bounds a pool.
type Config struct {
	MaxConnections int `yaml:"max_connections"`
	MinConnections int `yaml:"min_connections"`
	// ConnectionTimeout is how long a request may wait for a connection.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	// IdleTimeout and MaxLifetime retire connections; zero disables them.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	// SweepInterval defaults to half the shorter of IdleTimeout and
	// MaxLifetime, and never runs more often than once a second.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// ReconnectTimeout caps the backoff when a broken connection is
	// replaced. Defaults to ConnectionTimeout.
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`
}

// DefaultConfig returns the default pool bounds.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    10,
		MinConnections:    1,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       10 * time.Minute,
		MaxLifetime:       time.Hour,
	}
}

// WithDefaults fills zero durations and a zero maximum from DefaultConfig.
// MinConnections is taken as given, so zero is a valid minimum.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections == 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = d.MaxLifetime
	}
	if c.ReconnectTimeout == 0 {
		c.ReconnectTimeout = c.ConnectionTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = defaultSweepInterval(c.IdleTimeout, c.MaxLifetime)
	}
	return c
}

func defaultSweepInterval(idle, lifetime time.Duration) time.Duration {
	shortest := idle
	if shortest <= 0 || (lifetime > 0 && lifetime < shortest) {
		shortest = lifetime
	}
	interval := shortest / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Validate checks the bounds.
func (c Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: max_connections must be positive", ErrInvalidConfig)
	}
	if c.MinConnections < 0 {
		return fmt.Errorf("%w: min_connections must not be negative", ErrInvalidConfig)
	}
	if c.MinConnections > c.MaxConnections {
		return fmt.Errorf("%w: min_connections %d exceeds max_connections %d",
			ErrInvalidConfig, c.MinConnections, c.MaxConnections)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("%w: connection_timeout must be positive", ErrInvalidConfig)
	}
	if c.IdleTimeout < 0 || c.MaxLifetime < 0 {
		return fmt.Errorf("%w: idle_timeout and max_lifetime must not be negative", ErrInvalidConfig)
	}
	return nil
}
