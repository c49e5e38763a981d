package condition

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperatorForType is returned when a value does not fit its operator.
	ErrInvalidOperatorForType = errors.New("invalid operator for value type")

	// ErrMalformedTree is returned when a condition cannot be read as a tree.
	ErrMalformedTree = errors.New("malformed condition tree")
)

// ConditionError describes why a condition was rejected.
type ConditionError struct {
	Cause    error
	Field    string
	Operator Operator
	Reason   string
}

// Error implements the error interface.
func (e *ConditionError) Error() string {
	switch {
	case e.Field != "" && e.Operator != "":
		return fmt.Sprintf("%v: field '%s' operator '%s': %s", e.Cause, e.Field, e.Operator, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("%v: field '%s': %s", e.Cause, e.Field, e.Reason)
	default:
		return fmt.Sprintf("%v: %s", e.Cause, e.Reason)
	}
}

// Unwrap returns the sentinel behind the error.
func (e *ConditionError) Unwrap() error {
	return e.Cause
}

func invalidOperator(field string, op Operator, format string, args ...interface{}) *ConditionError {
	return &ConditionError{
		Cause:    ErrInvalidOperatorForType,
		Field:    field,
		Operator: op,
		Reason:   fmt.Sprintf(format, args...),
	}
}

func malformed(format string, args ...interface{}) *ConditionError {
	return &ConditionError{
		Cause:  ErrMalformedTree,
		Reason: fmt.Sprintf(format, args...),
	}
}

// IsConditionError reports whether err came from condition validation.
func IsConditionError(err error) bool {
	var ce *ConditionError
	return errors.As(err, &ce)
}
