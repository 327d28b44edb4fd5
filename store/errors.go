package store

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for memory store operations.
type ErrorCode string

const (
	// ErrCodeConnection indicates the pool cannot reach the database.
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"
	// ErrCodeValidation indicates a malformed input record.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrCodeQuery indicates a single statement failed.
	ErrCodeQuery ErrorCode = "QUERY_ERROR"
	// ErrCodeBatch indicates one member of a batch failed and the batch was rolled back.
	ErrCodeBatch ErrorCode = "BATCH_ERROR"
	// ErrCodeNotInitialized indicates an operation ran before Init completed.
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"
	// ErrCodePoolExhausted indicates no connection became free before the acquire deadline.
	ErrCodePoolExhausted ErrorCode = "POOL_EXHAUSTED"
	// ErrCodeTimeout indicates the caller's deadline fired.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeSchema indicates schema creation or validation failed.
	ErrCodeSchema ErrorCode = "SCHEMA_ERROR"
	// ErrCodeNotFound indicates the addressed record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is the structured error returned by store operations.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ConnectionError creates a connection error.
func ConnectionError(msg string, cause error) *Error {
	return &Error{Code: ErrCodeConnection, Message: msg, Cause: cause}
}

// ValidationError creates a validation error.
func ValidationError(msg string) *Error {
	return &Error{Code: ErrCodeValidation, Message: msg}
}

// QueryError creates a query error carrying the original cause.
func QueryError(msg string, cause error) *Error {
	return &Error{Code: ErrCodeQuery, Message: msg, Cause: cause}
}

// BatchError creates a batch error for the operation at index.
func BatchError(index int, cause error) *Error {
	e := &Error{Code: ErrCodeBatch, Message: fmt.Sprintf("batch operation %d failed, batch rolled back", index), Cause: cause}
	return e.WithContext("index", index)
}

// NotInitialized creates a not initialized error.
func NotInitialized() *Error {
	return &Error{Code: ErrCodeNotInitialized, Message: "memory store is not initialized"}
}

// PoolExhausted creates a pool exhausted error.
func PoolExhausted(cause error) *Error {
	return &Error{Code: ErrCodePoolExhausted, Message: "no pooled connection became available", Cause: cause}
}

// Timeout creates a timeout error.
func Timeout(msg string, cause error) *Error {
	return &Error{Code: ErrCodeTimeout, Message: msg, Cause: cause}
}

// SchemaError creates a schema error.
func SchemaError(msg string, cause error) *Error {
	return &Error{Code: ErrCodeSchema, Message: msg, Cause: cause}
}

// NotFound creates a not found error.
func NotFound(kind, id string) *Error {
	e := &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", kind, id)}
	return e.WithContext("id", id)
}

// IsCode reports whether err, or any error it wraps, is a store Error with code.
func IsCode(err error, code ErrorCode) bool {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a store Error.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return defaultCode
}
