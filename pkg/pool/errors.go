package pool

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies pool failures.
type ErrorKind int

const (
	// Timeout means no connection picked the request up within the
	// connection timeout.
	Timeout ErrorKind = iota
	// Exhausted means the pool was closed before the request ran.
	Exhausted
)

func (k ErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

var (
	ErrTimeout       = errors.New("timed out waiting for a connection")
	ErrExhausted     = errors.New("connection pool exhausted")
	ErrInvalidConfig = errors.New("invalid pool configuration")
)

// PoolError is returned through a Future when the pool itself could not run
// the request.
type PoolError struct {
	Alias  string
	Kind   ErrorKind
	Waited time.Duration
	// Cause is the last connection failure, if any.
	Cause error
}

func (e *PoolError) Error() string {
	var msg string
	switch e.Kind {
	case Timeout:
		msg = fmt.Sprintf("pool %s: no connection available after %s", e.Alias, e.Waited.Round(time.Millisecond))
	default:
		msg = fmt.Sprintf("pool %s: closed before the request ran", e.Alias)
	}
	if e.Cause != nil {
		msg += ": last connection error: " + e.Cause.Error()
	}
	return msg
}

func (e *PoolError) Unwrap() error {
	return e.Cause
}

func (e *PoolError) Is(target error) bool {
	switch e.Kind {
	case Timeout:
		return target == ErrTimeout
	case Exhausted:
		return target == ErrExhausted
	}
	return false
}

// IsTimeout reports whether err is an acquisition timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsExhausted reports whether err means the pool was closed.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}
