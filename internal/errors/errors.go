// Package errors provides structured error types for collegescvis.
// Every error carries a category and a code so callers can tell validation
// failures apart from absorbed structural conflicts and fatal run errors.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryDecode     ErrorCategory = "DECODE"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes.
const (
	// Validation codes
	CodeInvalidInput     = "INVALID_INPUT"
	CodeNotFound         = "NOT_FOUND"
	CodeUnsafeIdentifier = "UNSAFE_IDENTIFIER"

	// Decode codes
	CodeMalformedRow = "MALFORMED_ROW"

	// Store codes
	CodeStructureAlreadyExists = "STRUCTURE_ALREADY_EXISTS"
	CodeMissingReferencedRow   = "MISSING_REFERENCED_ROW"
	CodeInvalidState           = "INVALID_STATE"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is checks. Matching is by category and code, so any
// error built with the same pair satisfies errors.Is against these.
var (
	ErrInvalidInput     = New(ErrCategoryValidation, CodeInvalidInput, "invalid input")
	ErrNotFound         = New(ErrCategoryValidation, CodeNotFound, "not found")
	ErrUnsafeIdentifier = New(ErrCategoryValidation, CodeUnsafeIdentifier, "unsafe identifier")
)

// ScorecardError is the structured error type used throughout the system.
type ScorecardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *ScorecardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ScorecardError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ScorecardError) Is(target error) bool {
	var t *ScorecardError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ScorecardError.
func New(category ErrorCategory, code, message string) *ScorecardError {
	return &ScorecardError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new ScorecardError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ScorecardError {
	return &ScorecardError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ScorecardError) WithDetails(details map[string]interface{}) *ScorecardError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsFatal reports whether err must abort the current operation. Only
// structural idempotency conflicts and skipped unreferenced rows are absorbed.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case CodeStructureAlreadyExists, CodeMissingReferencedRow:
		return false
	default:
		return true
	}
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ScorecardError.
func GetCategory(err error) ErrorCategory {
	var se *ScorecardError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ScorecardError.
func GetCode(err error) string {
	var se *ScorecardError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Convenience constructors for common errors.

func NewInvalidInput(message string) *ScorecardError {
	return New(ErrCategoryValidation, CodeInvalidInput, message)
}

func NewNotFound(message string, cause error) *ScorecardError {
	return Wrap(ErrCategoryValidation, CodeNotFound, message, cause)
}

func NewUnsafeIdentifier(message string) *ScorecardError {
	return New(ErrCategoryValidation, CodeUnsafeIdentifier, message)
}

func NewDecodeError(code, message string, cause error) *ScorecardError {
	return Wrap(ErrCategoryDecode, code, message, cause)
}

func NewStoreError(code, message string, cause error) *ScorecardError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewQueryError(code, message string) *ScorecardError {
	return New(ErrCategoryQuery, code, message)
}

func NewStorageError(code, message string, cause error) *ScorecardError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *ScorecardError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
