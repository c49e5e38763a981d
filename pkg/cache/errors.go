package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned for an unusable cache configuration.
	ErrInvalidConfig = errors.New("invalid cache configuration")

	// ErrSerialization is returned when a payload cannot be encoded or decoded.
	ErrSerialization = errors.New("cache serialization failed")

	// ErrProvider is returned when the second tier fails.
	ErrProvider = errors.New("cache provider failed")
)

// CacheError describes a failed cache operation. Cache errors never fail a
// data operation; they are logged and counted.
type CacheError struct {
	Op    string
	Key   string
	Kind  error
	Cause error
}

func (e *CacheError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s %s: %v: %v", e.Op, e.Key, e.Kind, e.Cause)
	}
	return fmt.Sprintf("cache %s: %v: %v", e.Op, e.Kind, e.Cause)
}

func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the error's kind.
func (e *CacheError) Is(target error) bool {
	return target == e.Kind
}

func newCacheError(op, key string, kind, cause error) *CacheError {
	return &CacheError{Op: op, Key: key, Kind: kind, Cause: cause}
}
