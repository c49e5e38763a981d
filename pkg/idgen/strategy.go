// Package idgen produces primary keys for new records. A Strategy is bound to
// each database alias at configuration time and New turns it into a
// Generator; every generator is safe for concurrent use.
package idgen

import (
	"fmt"
	"strings"
)

// StrategyType names an id generation scheme.
type StrategyType string

const (
	AutoIncrement StrategyType = "auto_increment"
	UUID          StrategyType = "uuid"
	Snowflake     StrategyType = "snowflake"
	ObjectID      StrategyType = "object_id"
	Custom        StrategyType = "custom"
)

// SuffixMode selects how custom ids are made unique after their prefix.
type SuffixMode string

const (
	SuffixMonotonic SuffixMode = "monotonic"
	SuffixRandom    SuffixMode = "random"
)

// Strategy is the configured id scheme for one alias.
type Strategy struct {
	Type         StrategyType `yaml:"type" json:"type"`
	MachineID    uint8        `yaml:"machine_id,omitempty" json:"machineId,omitempty"`
	DatacenterID uint8        `yaml:"datacenter_id,omitempty" json:"datacenterId,omitempty"`
	Prefix       string       `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Suffix       SuffixMode   `yaml:"suffix,omitempty" json:"suffix,omitempty"`
}

// DefaultStrategy lets the backend assign ids.
func DefaultStrategy() Strategy {
	return Strategy{Type: AutoIncrement}
}

var strategyAliases = map[string]StrategyType{
	"auto_increment": AutoIncrement,
	"autoincrement":  AutoIncrement,
	"auto":           AutoIncrement,
	"uuid":           UUID,
	"snowflake":      Snowflake,
	"object_id":      ObjectID,
	"objectid":       ObjectID,
	"custom":         Custom,
}

// ParseStrategyType resolves a strategy name case-insensitively.
func ParseStrategyType(name string) (StrategyType, bool) {
	t, ok := strategyAliases[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// GeneratesValue reports whether the core assigns ids before insert.
func (s Strategy) GeneratesValue() bool {
	return !s.IsAutoIncrement()
}

// Validate checks the strategy parameters.
func (s Strategy) Validate() error {
	t, ok := ParseStrategyType(string(s.Type))
	if !ok {
		return fmt.Errorf("%w: unknown type '%s'", ErrInvalidStrategy, s.Type)
	}

	switch t {
	case Snowflake:
		if s.MachineID > maxNodeID {
			return fmt.Errorf("%w: machine_id must be between 0 and %d", ErrInvalidStrategy, maxNodeID)
		}
		if s.DatacenterID > maxNodeID {
			return fmt.Errorf("%w: datacenter_id must be between 0 and %d", ErrInvalidStrategy, maxNodeID)
		}
	case Custom:
		if strings.TrimSpace(s.Prefix) == "" {
			return fmt.Errorf("%w: custom strategy requires a prefix", ErrInvalidStrategy)
		}
		switch s.Suffix {
		case "", SuffixMonotonic, SuffixRandom:
		default:
			return fmt.Errorf("%w: unknown suffix mode '%s'", ErrInvalidStrategy, s.Suffix)
		}
	}
	return nil
}

// String returns a short description for logs.
func (s Strategy) String() string {
	switch s.Type {
	case Snowflake:
		return fmt.Sprintf("snowflake(dc=%d,machine=%d)", s.DatacenterID, s.MachineID)
	case Custom:
		return fmt.Sprintf("custom(%s)", s.Prefix)
	default:
		return string(s.Type)
	}
}

// Normalized returns s with its type resolved to the canonical constant.
// An empty or unknown type is left unchanged except that empty becomes
// AutoIncrement.
func (s Strategy) Normalized() Strategy {
	if s.Type == "" {
		s.Type = AutoIncrement
		return s
	}
	if t, ok := ParseStrategyType(string(s.Type)); ok {
		s.Type = t
	}
	return s
}

// IsAutoIncrement reports whether the backend assigns ids.
func (s Strategy) IsAutoIncrement() bool {
	return s.Normalized().Type == AutoIncrement
}
