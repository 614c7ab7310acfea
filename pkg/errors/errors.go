package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the failure classes a digest run distinguishes
type ErrorType string

const (
	ErrorTypeTransient       ErrorType = "transient"
	ErrorTypeProviderTimeout ErrorType = "provider_timeout"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeMalformedRecord ErrorType = "malformed_record"
	ErrorTypeMediaFetch      ErrorType = "media_fetch"
	ErrorTypeMigration       ErrorType = "migration"
	ErrorTypeConfig          ErrorType = "config"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Sentinels usable with errors.Is. Matching compares the error type only.
var (
	ErrProviderTimeout = &Error{Type: ErrorTypeProviderTimeout, Message: "provider did not finish before the deadline"}
	ErrMalformedRecord = &Error{Type: ErrorTypeMalformedRecord, Message: "malformed record"}
	ErrMigration       = &Error{Type: ErrorTypeMigration, Message: "migration failed"}
)

// Error is a typed error carrying an optional HTTP code, the failing operation
// and the underlying cause
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Op      string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Type) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// New creates a typed error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap attaches a type and operation to an existing error
func Wrap(errorType ErrorType, op string, err error) *Error {
	return &Error{Type: errorType, Op: op, Err: err}
}

// TypeOf returns the type of the first *Error in err's chain
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransient, ErrorTypeRateLimit, ErrorTypeProviderTimeout:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 408, 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// FromStatusCode maps an HTTP status to an error type
func FromStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 429:
		return ErrorTypeRateLimit
	case IsRetryableStatusCode(statusCode):
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}
