// Package errors provides structured error types for ipcscan.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryManifest   ErrorCategory = "MANIFEST"
	ErrCategoryTable      ErrorCategory = "TABLE"
	ErrCategoryPlan       ErrorCategory = "PLAN"
	ErrCategoryExecution  ErrorCategory = "EXECUTION"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidSchema = "INVALID_SCHEMA"
	CodeEmptyBatch    = "EMPTY_BATCH"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Manifest codes
	CodeWriteConflict = "WRITE_CONFLICT"
	CodeTableNotFound = "TABLE_NOT_FOUND"

	// Table codes
	CodePathNotFound   = "PATH_NOT_FOUND"
	CodeSchemaMismatch = "SCHEMA_MISMATCH"

	// Plan codes
	CodeIndexOutOfRange = "INDEX_OUT_OF_RANGE"
	CodeInvalidPlan     = "INVALID_PLAN"

	// Execution codes
	CodeDecodeError = "DECODE_ERROR"
	CodeIOError     = "IO_ERROR"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is matching. Any ScanError with the same category and
// code matches, regardless of message or details.
var (
	ErrPathNotFound    = New(ErrCategoryTable, CodePathNotFound, "path not found")
	ErrSchemaMismatch  = New(ErrCategoryTable, CodeSchemaMismatch, "schema mismatch")
	ErrDecode          = New(ErrCategoryExecution, CodeDecodeError, "decode error")
	ErrIO              = New(ErrCategoryExecution, CodeIOError, "i/o error")
	ErrIndexOutOfRange = New(ErrCategoryPlan, CodeIndexOutOfRange, "partition index out of range")
	ErrInvalidPlan     = New(ErrCategoryPlan, CodeInvalidPlan, "invalid plan")
	ErrTableNotFound   = New(ErrCategoryManifest, CodeTableNotFound, "table not found")
)

// ScanError is the structured error type used throughout the system.
type ScanError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ScanError) Is(target error) bool {
	var t *ScanError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ScanError.
func New(category ErrorCategory, code, message string) *ScanError {
	return &ScanError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ScanError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ScanError {
	return &ScanError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ScanError) WithDetails(details map[string]interface{}) *ScanError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
// The flag is advice for the caller; nothing in this module retries.
func IsRetryable(err error) bool {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ScanError.
func GetCategory(err error) ErrorCategory {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ScanError.
func GetCode(err error) string {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryManifest && code == CodeWriteConflict:
		return true
	case category == ErrCategoryExecution && code == CodeIOError:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *ScanError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *ScanError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewManifestError(code, message string, cause error) *ScanError {
	return Wrap(ErrCategoryManifest, code, message, cause)
}

func NewInternalError(message string, cause error) *ScanError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// PathNotFound reports a table location that does not exist or holds no table files.
func PathNotFound(path string, cause error) *ScanError {
	return Wrap(ErrCategoryTable, CodePathNotFound, fmt.Sprintf("table path %q not found", path), cause).
		WithDetails(map[string]interface{}{"path": path})
}

// SchemaMismatch reports a member file whose schema differs from the table schema.
func SchemaMismatch(file, reason string) *ScanError {
	return New(ErrCategoryTable, CodeSchemaMismatch, fmt.Sprintf("file %q: %s", file, reason)).
		WithDetails(map[string]interface{}{"file": file})
}

// Decode reports a malformed file or batch.
func Decode(file string, cause error) *ScanError {
	return Wrap(ErrCategoryExecution, CodeDecodeError, fmt.Sprintf("failed to decode %q", file), cause).
		WithDetails(map[string]interface{}{"file": file})
}

// IO reports a failed read from storage.
func IO(file string, cause error) *ScanError {
	return Wrap(ErrCategoryExecution, CodeIOError, fmt.Sprintf("failed to read %q", file), cause).
		WithDetails(map[string]interface{}{"file": file})
}

// IndexOutOfRange reports a partition index outside [0, count).
func IndexOutOfRange(partition, count int) *ScanError {
	return New(ErrCategoryPlan, CodeIndexOutOfRange,
		fmt.Sprintf("partition %d out of range [0, %d)", partition, count)).
		WithDetails(map[string]interface{}{"partition": partition, "count": count})
}

// InvalidPlan reports an illegal plan construction or tree mutation.
func InvalidPlan(message string) *ScanError {
	return New(ErrCategoryPlan, CodeInvalidPlan, message)
}
