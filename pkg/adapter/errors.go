package adapter

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

// Standard adapter errors
var (
	// ErrOperationNotSupported is returned when an operation is not supported by the database
	ErrOperationNotSupported = errors.New("operation not supported by this database")

	// ErrConnectionClosed is returned when attempting to use a closed connection
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrConnectionFailed is returned when a connection attempt fails or a live connection breaks
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidConfiguration is returned when the configuration is invalid
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrTableNotFound is returned when a table/collection is not found
	ErrTableNotFound = errors.New("table not found")

	// ErrRecordNotFound is returned when a record addressed by id does not exist
	ErrRecordNotFound = errors.New("record not found")

	// ErrAdapterNotFound is returned when an adapter is not registered
	ErrAdapterNotFound = errors.New("adapter not found")

	// ErrInvalidQuery is returned when a request is malformed
	ErrInvalidQuery = errors.New("invalid query")

	// ErrQueryFailed is returned when the backend rejects or fails a statement
	ErrQueryFailed = errors.New("query failed")

	// ErrConstraintViolation is returned when a write breaks a unique or not-null constraint
	ErrConstraintViolation = errors.New("constraint violation")
)

// QueryError wraps database-specific errors with additional context.
// This provides a consistent error structure across all database types.
type QueryError struct {
	DatabaseType dbcapabilities.DatabaseType
	Operation    string
	Cause        error
	Context      map[string]interface{}
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if len(e.Context) > 0 {
		return fmt.Sprintf("[%s] %s: %v (context: %v)", e.DatabaseType, e.Operation, e.Cause, e.Context)
	}
	return fmt.Sprintf("[%s] %s: %v", e.DatabaseType, e.Operation, e.Cause)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is ErrQueryFailed.
func (e *QueryError) Is(target error) bool {
	return target == ErrQueryFailed
}

// NewQueryError creates a new QueryError.
func NewQueryError(dbType dbcapabilities.DatabaseType, operation string, cause error) *QueryError {
	return &QueryError{
		DatabaseType: dbType,
		Operation:    operation,
		Cause:        cause,
	}
}

// WithContext adds context to a QueryError.
func (e *QueryError) WithContext(key string, value interface{}) *QueryError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ConstraintError is returned when a write violates a constraint.
type ConstraintError struct {
	DatabaseType dbcapabilities.DatabaseType
	Collection   string
	Cause        error
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("[%s] constraint violation on %s: %v", e.DatabaseType, e.Collection, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is ErrConstraintViolation.
func (e *ConstraintError) Is(target error) bool {
	return target == ErrConstraintViolation
}

// NewConstraintError creates a new ConstraintError.
func NewConstraintError(dbType dbcapabilities.DatabaseType, collection string, cause error) *ConstraintError {
	return &ConstraintError{
		DatabaseType: dbType,
		Collection:   collection,
		Cause:        cause,
	}
}

// UnsupportedOperationError is returned when an operation is not supported.
type UnsupportedOperationError struct {
	DatabaseType dbcapabilities.DatabaseType
	Operation    string
	Reason       string
}

// Error implements the error interface.
func (e *UnsupportedOperationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s does not support %s: %s", e.DatabaseType, e.Operation, e.Reason)
	}
	return fmt.Sprintf("%s does not support %s", e.DatabaseType, e.Operation)
}

// Is checks if the error is ErrOperationNotSupported.
func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrOperationNotSupported
}

// NewUnsupportedOperationError creates a new UnsupportedOperationError.
func NewUnsupportedOperationError(dbType dbcapabilities.DatabaseType, operation string, reason string) *UnsupportedOperationError {
	return &UnsupportedOperationError{
		DatabaseType: dbType,
		Operation:    operation,
		Reason:       reason,
	}
}

// ConnectionError is returned when a connection cannot be opened or breaks
// while in use. Pools discard the connection when they see one.
type ConnectionError struct {
	DatabaseType dbcapabilities.DatabaseType
	Host         string
	Port         int
	Cause        error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("connection to %s failed: %v", e.DatabaseType, e.Cause)
	}
	return fmt.Sprintf("failed to connect to %s at %s:%d: %v", e.DatabaseType, e.Host, e.Port, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is ErrConnectionFailed.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(dbType dbcapabilities.DatabaseType, host string, port int, cause error) *ConnectionError {
	return &ConnectionError{
		DatabaseType: dbType,
		Host:         host,
		Port:         port,
		Cause:        cause,
	}
}

// ConfigurationError is returned when a configuration error occurs.
type ConfigurationError struct {
	DatabaseType dbcapabilities.DatabaseType
	Field        string
	Reason       string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration for %s: field '%s': %s", e.DatabaseType, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid configuration for %s: %s", e.DatabaseType, e.Reason)
}

// Is checks if the error is ErrInvalidConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(dbType dbcapabilities.DatabaseType, field string, reason string) *ConfigurationError {
	return &ConfigurationError{
		DatabaseType: dbType,
		Field:        field,
		Reason:       reason,
	}
}

// NotFoundError is returned when a resource is not found.
type NotFoundError struct {
	DatabaseType dbcapabilities.DatabaseType
	ResourceType string
	ResourceName string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found in %s: %s", e.ResourceType, e.DatabaseType, e.ResourceName)
}

// Is checks if the error is ErrTableNotFound or ErrRecordNotFound.
func (e *NotFoundError) Is(target error) bool {
	switch e.ResourceType {
	case "table", "collection":
		return target == ErrTableNotFound
	case "record":
		return target == ErrRecordNotFound
	}
	return false
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(dbType dbcapabilities.DatabaseType, resourceType string, resourceName string) *NotFoundError {
	return &NotFoundError{
		DatabaseType: dbType,
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

// WrapError wraps an error with database context.
// Errors that already belong to the adapter taxonomy are returned as-is.
func WrapError(dbType dbcapabilities.DatabaseType, operation string, err error) error {
	if err == nil {
		return nil
	}

	// Don't double-wrap
	if isClassified(err) {
		return err
	}

	if errors.Is(err, driver.ErrBadConn) {
		return NewConnectionError(dbType, "", 0, err)
	}

	return NewQueryError(dbType, operation, err)
}

func isClassified(err error) bool {
	var (
		queryErr       *QueryError
		constraintErr  *ConstraintError
		connErr        *ConnectionError
		configErr      *ConfigurationError
		notFoundErr    *NotFoundError
		unsupportedErr *UnsupportedOperationError
	)
	return errors.As(err, &queryErr) ||
		errors.As(err, &constraintErr) ||
		errors.As(err, &connErr) ||
		errors.As(err, &configErr) ||
		errors.As(err, &notFoundErr) ||
		errors.As(err, &unsupportedErr)
}

// IsUnsupported checks if an error indicates an unsupported operation.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrOperationNotSupported)
}

// IsConnectionError checks if an error is a connection error.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrConnectionClosed)
}

// IsConfigurationError checks if an error is a configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

// IsConstraintViolation checks if an error is a constraint violation.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}

// IsNotFound checks if an error reports a missing table or record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTableNotFound) || errors.Is(err, ErrRecordNotFound)
}

// IsContextError reports whether err was caused by context cancellation or deadline.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
