// Package errors provides structured error types for the streamwh engine.
// Every error carries a category, a code, a message and a retryable flag so
// that each failure mode maps to a defined, non-halting disposition.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the component that raised them.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySync       ErrorCategory = "SYNC"
	ErrCategorySink       ErrorCategory = "SINK"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryIntegrity  ErrorCategory = "INTEGRITY"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeParseError    = "PARSE_ERROR"
	CodeMissingField  = "MISSING_FIELD"
	CodeUnknownStream = "UNKNOWN_STREAM"

	// Sync codes
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeSyncFailed          = "SYNC_FAILED"

	// Sink codes
	CodeSinkUnavailable = "SINK_UNAVAILABLE"
	CodeDeliveryFailed  = "DELIVERY_FAILED"

	// Store codes
	CodeReadFailed       = "READ_FAILED"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeStoreBusy        = "STORE_BUSY"
	CodeUnknownDimension = "UNKNOWN_DIMENSION"

	// Integrity codes
	CodeOrphanReference = "ORPHAN_REFERENCE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// EngineError is the structured error type used throughout the engine.
type EngineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new EngineError.
func New(category ErrorCategory, code, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new EngineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *EngineError {
	return &EngineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *EngineError) WithDetails(details map[string]interface{}) *EngineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an EngineError.
func GetCategory(err error) ErrorCategory {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an EngineError.
func GetCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsConflict reports whether err is a synchronizer concurrency conflict.
func IsConflict(err error) bool {
	return GetCategory(err) == ErrCategorySync && GetCode(err) == CodeConcurrencyConflict
}

// isRetryable marks the transient failures: write races, a busy or locked
// store and sink outages.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategorySync && code == CodeConcurrencyConflict:
		return true
	case category == ErrCategoryStore && code == CodeStoreBusy:
		return true
	case category == ErrCategorySink && code == CodeSinkUnavailable:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *EngineError {
	return New(ErrCategoryValidation, code, message)
}

func NewConflictError(message string) *EngineError {
	return New(ErrCategorySync, CodeConcurrencyConflict, message)
}

func NewSyncFailedError(message string, cause error) *EngineError {
	return Wrap(ErrCategorySync, CodeSyncFailed, message, cause)
}

func NewSinkError(code, message string, cause error) *EngineError {
	return Wrap(ErrCategorySink, code, message, cause)
}

func NewStoreError(code, message string, cause error) *EngineError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewInternalError(message string, cause error) *EngineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
