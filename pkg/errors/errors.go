// Package errors provides the structured error system for vaultcache with
// error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of cache failure.
type ErrorCode string

// Error code constants grouped by concern.
const (
	// Input and configuration (1000-1999)
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// Capacity (2000-2999)
	ErrCodeMemoryLimitExceeded ErrorCode = "MEMORY_LIMIT_EXCEEDED"
	ErrCodeCacheFull           ErrorCode = "CACHE_FULL"

	// Entry lifecycle (3000-3999)
	ErrCodeKeyNotFound  ErrorCode = "KEY_NOT_FOUND"
	ErrCodeEntryExpired ErrorCode = "ENTRY_EXPIRED"

	// Versioning (4000-4999)
	ErrCodeVersionConflict   ErrorCode = "VERSION_CONFLICT"
	ErrCodeDependencyChanged ErrorCode = "DEPENDENCY_CHANGED"

	// Concurrency (5000-5999)
	ErrCodeLockAcquisition        ErrorCode = "LOCK_ACQUISITION_FAILED"
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"

	// Security (6000-6999)
	ErrCodeAccessDenied ErrorCode = "ACCESS_DENIED"
	ErrCodeEncryption   ErrorCode = "ENCRYPTION_ERROR"

	// System (9000-9999)
	ErrCodeFileSystem ErrorCode = "FILE_SYSTEM_ERROR"
	ErrCodeTimeout    ErrorCode = "TIMEOUT_ERROR"
	ErrCodeUnknown    ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryInput       ErrorCategory = "input"
	CategoryCapacity    ErrorCategory = "capacity"
	CategoryLifecycle   ErrorCategory = "lifecycle"
	CategoryVersioning  ErrorCategory = "versioning"
	CategoryConcurrency ErrorCategory = "concurrency"
	CategorySecurity    ErrorCategory = "security"
	CategorySystem      ErrorCategory = "system"
)

// CacheError is a structured error carrying code, category, and context.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	Key       string `json:"key,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("Key=%s", e.Key))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *CacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// New creates a new CacheError with defaults derived from the code.
func New(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a new CacheError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return New(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidInput, ErrCodeConfiguration:
		return CategoryInput
	case ErrCodeMemoryLimitExceeded, ErrCodeCacheFull:
		return CategoryCapacity
	case ErrCodeKeyNotFound, ErrCodeEntryExpired:
		return CategoryLifecycle
	case ErrCodeVersionConflict, ErrCodeDependencyChanged:
		return CategoryVersioning
	case ErrCodeLockAcquisition, ErrCodeConcurrentModification:
		return CategoryConcurrency
	case ErrCodeAccessDenied, ErrCodeEncryption:
		return CategorySecurity
	default:
		return CategorySystem
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeLockAcquisition: true,
		ErrCodeTimeout:         true,
		ErrCodeFileSystem:      true,
	}
	return retryableCodes[code]
}

// CodeOf extracts the error code from any error. Plain errors map to
// UNKNOWN_ERROR; nil maps to the empty code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if cacheErr, ok := err.(*CacheError); ok {
		return cacheErr.Code
	}
	return ErrCodeUnknown
}

// IsRetryable reports whether an error is marked retryable.
func IsRetryable(err error) bool {
	if cacheErr, ok := err.(*CacheError); ok {
		return cacheErr.Retryable
	}
	return false
}

// WithDetail adds detailed information to an error.
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithKey records the cache key the error relates to.
func (e *CacheError) WithKey(key string) *CacheError {
	e.Key = key
	return e
}

// WithCause sets the underlying cause.
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retryable hint.
func (e *CacheError) WithRetryable(retryable bool) *CacheError {
	e.Retryable = retryable
	return e
}
