package idgen

import (
	"errors"
	"fmt"
)

var (
	// ErrClockRollback is returned when the wall clock moved backwards further
	// than the generator tolerates.
	ErrClockRollback = errors.New("clock moved backwards")

	// ErrEntropyFailure is returned when the random source could not be read.
	ErrEntropyFailure = errors.New("entropy source failure")

	// ErrInvalidStrategy is returned for unknown or misconfigured strategies.
	ErrInvalidStrategy = errors.New("invalid id strategy")
)

// IdGenerationError wraps a failure to produce an id.
type IdGenerationError struct {
	Strategy StrategyType
	Kind     error
	Cause    error
}

// Error implements the error interface.
func (e *IdGenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("id generation (%s): %v: %v", e.Strategy, e.Kind, e.Cause)
	}
	return fmt.Sprintf("id generation (%s): %v", e.Strategy, e.Kind)
}

// Unwrap returns the error kind so errors.Is matches the sentinels.
func (e *IdGenerationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func newGenerationError(strategy StrategyType, kind error, cause error) *IdGenerationError {
	return &IdGenerationError{Strategy: strategy, Kind: kind, Cause: cause}
}
