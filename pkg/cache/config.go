package cache

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy selects the L1 eviction order.
type Strategy string

const (
	// StrategyLRU evicts the least recently read entry.
	StrategyLRU Strategy = "lru"
	// StrategyFIFO evicts the oldest inserted entry; reads do not refresh it.
	StrategyFIFO Strategy = "fifo"
)

// Default values applied by Config.WithDefaults.
const (
	DefaultPrefix               = "quickdb"
	DefaultCapacity             = 10000
	DefaultMaxMemoryBytes       = 100 * 1024 * 1024
	DefaultTTL                  = time.Hour
	DefaultMaxTTL               = 24 * time.Hour
	DefaultCheckInterval        = 5 * time.Minute
	DefaultCompressionThreshold = 1024
)

// Config configures one alias' cache.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Strategy       Strategy      `yaml:"strategy"`
	Prefix         string        `yaml:"prefix"`
	Capacity       int           `yaml:"capacity"`
	MaxMemoryBytes int64         `yaml:"max_memory_bytes"`
	DefaultTTL     time.Duration `yaml:"default_ttl"`
	MaxTTL         time.Duration `yaml:"max_ttl"`
	CheckInterval  time.Duration `yaml:"check_interval"`

	// L2 enables the shared second tier. The provider itself is passed to New.
	L2 L2Config `yaml:"l2"`
}

// L2Config configures the second tier.
type L2Config struct {
	Enabled bool `yaml:"enabled"`
	// Compression enables zstd for payloads of at least CompressionThreshold bytes.
	Compression          bool `yaml:"compression"`
	CompressionThreshold int  `yaml:"compression_threshold"`
	// URL of the Redis server (redis://host:port/db).
	URL string `yaml:"url"`
}

// UnmarshalYAML enables a cache whose section is present unless it says
// otherwise.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type plain Config
	p := plain{Enabled: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

// WithDefaults returns c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyLRU
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MaxMemoryBytes == 0 {
		c.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = DefaultMaxTTL
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.L2.CompressionThreshold == 0 {
		c.L2.CompressionThreshold = DefaultCompressionThreshold
	}
	return c
}

// Validate checks a defaulted configuration.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyLRU, StrategyFIFO:
	default:
		return fmt.Errorf("%w: unknown strategy '%s'", ErrInvalidConfig, c.Strategy)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("%w: capacity must not be negative", ErrInvalidConfig)
	}
	if c.MaxMemoryBytes < 0 {
		return fmt.Errorf("%w: max_memory_bytes must not be negative", ErrInvalidConfig)
	}
	if c.DefaultTTL < 0 || c.MaxTTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative", ErrInvalidConfig)
	}
	if c.MaxTTL > 0 && c.DefaultTTL > c.MaxTTL {
		return fmt.Errorf("%w: default_ttl %s exceeds max_ttl %s", ErrInvalidConfig, c.DefaultTTL, c.MaxTTL)
	}
	return nil
}

// ttl clamps a requested TTL to the configured bounds.
func (c Config) ttl(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = c.DefaultTTL
	}
	if c.MaxTTL > 0 && requested > c.MaxTTL {
		requested = c.MaxTTL
	}
	return requested
}
