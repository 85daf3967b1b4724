// Package errors provides structured error handling for scanconsole operations.
// It defines error codes shared by the session, scan and export layers together
// with typed errors that carry the code, a user-facing message and the cause.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeUnexpected    ErrorCode = "UNEXPECTED"

	// Session errors.
	CodeAuthRequired ErrorCode = "AUTH_REQUIRED"
	CodeAuthExpired  ErrorCode = "AUTH_EXPIRED"
	CodeAuthFailed   ErrorCode = "AUTH_FAILED"

	// Scan dispatch errors.
	CodeInFlight   ErrorCode = "IN_FLIGHT"
	CodeResolution ErrorCode = "RESOLUTION"

	// Export and persistence errors.
	CodeNothingToExport ErrorCode = "NOTHING_TO_EXPORT"
	CodeStorage         ErrorCode = "STORAGE"
)

// Messages surfaced to the operator for the fixed error kinds.
const (
	MsgAuthRequired      = "Authentication required. Please log in."
	MsgAuthExpired       = "Authentication failed. Please log in again."
	MsgLoginFailed       = "Login failed"
	MsgUnrecognizedShape = "unrecognized response shape"
	MsgNothingToExport   = "No results to export"
)

// ScanError represents the error shape of a scan submission.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// AuthError is returned by login and by the access guard. Its Error text is the
// bare message so callers can present it unchanged.
type AuthError struct {
	Code     ErrorCode
	Message  string
	Location string
	Cause    error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// NewAuthError creates a new authentication error.
func NewAuthError(code ErrorCode, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// WrapAuthError wraps an existing error as an authentication error.
func WrapAuthError(code ErrorCode, message string, err error) *AuthError {
	return &AuthError{Code: code, Message: message, Cause: err}
}

// StorageError represents failures of the persisted client state.
type StorageError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// WrapStorageError wraps an existing error as a storage error.
func WrapStorageError(operation string, err error) *StorageError {
	return &StorageError{
		Code:      CodeStorage,
		Message:   "Client state storage failed",
		Operation: operation,
		Cause:     err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	for err != nil {
		switch e := err.(type) {
		case *ScanError:
			return e.Code
		case *AuthError:
			return e.Code
		case *StorageError:
			return e.Code
		case *ConfigError:
			return e.Code
		}
		err = stderrors.Unwrap(err)
	}
	return CodeUnknown
}

// IsAuthProblem reports whether the error means the operator must log in again.
func IsAuthProblem(err error) bool {
	switch GetCode(err) {
	case CodeAuthRequired, CodeAuthExpired:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrAuthRequired creates the error returned when no credential is present.
func ErrAuthRequired(target string) *ScanError {
	return NewScanErrorWithTarget(CodeAuthRequired, MsgAuthRequired, target)
}

// ErrAuthExpired creates the error returned when the backend rejects the credential.
func ErrAuthExpired(target string, cause error) *ScanError {
	return WrapScanError(CodeAuthExpired, MsgAuthExpired, target, cause)
}

// ErrUnexpected creates the catch-all scan error.
func ErrUnexpected(target, message string, cause error) *ScanError {
	return WrapScanError(CodeUnexpected, message, target, cause)
}

// ErrInFlight creates the error for a submission rejected by the single-flight guard.
func ErrInFlight(target string) *ScanError {
	return NewScanErrorWithTarget(CodeInFlight, "A scan for this target is already running", target)
}

// ErrNothingToExport is returned when an export is requested for an empty result list.
var ErrNothingToExport = &ScanError{Code: CodeNothingToExport, Message: MsgNothingToExport}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
