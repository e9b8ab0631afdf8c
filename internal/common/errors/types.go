// Package errors defines the closed error taxonomy used across the service.
// Every failure the CRM gateway can produce maps onto one of these types so
// calling code can branch on them instead of catching everything blindly.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType classifies a failure.
type ErrorType string

const (
	ErrTypeAuth         ErrorType = "auth"         // rejected credential or unreachable login endpoint
	ErrTypeUnauthorized ErrorType = "unauthorized" // invalid or expired token (HTTP 401)
	ErrTypeRateLimit    ErrorType = "rate_limit"   // HTTP 429, including backoff exhaustion
	ErrTypeMalformed    ErrorType = "malformed"    // 200 response whose body could not be decoded
	ErrTypeNetwork      ErrorType = "network"      // connection and timeout failures
	ErrTypeNotFound     ErrorType = "not_found"
	ErrTypeValidation   ErrorType = "validation"
	ErrTypeConfig       ErrorType = "config"
	ErrTypeInternal     ErrorType = "internal"
)

// AppError carries a type, a human message, an optional cause and optional
// key-value context.
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(pairs, ", "))
	}

	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches one key-value pair and returns the error for
// chaining.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func AuthError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeAuth, Message: msg, Cause: cause}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Type: ErrTypeUnauthorized, Message: msg}
}

func RateLimitError(msg string) *AppError {
	return &AppError{Type: ErrTypeRateLimit, Message: msg}
}

func MalformedError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeMalformed, Message: msg, Cause: cause}
}

func NetworkError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeNetwork, Message: msg, Cause: cause}
}

func NotFoundError(resource string) *AppError {
	return &AppError{Type: ErrTypeNotFound, Message: resource + " not found"}
}

func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// IsType reports whether err is, or wraps, an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == errType
}

// GetType extracts the error type, mapping foreign errors to internal.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}
	return appErr.Type
}
