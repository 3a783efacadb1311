// Package errors provides the error taxonomy used by the echo service.
// Errors carry a kind (one of the sentinel values below), a message, an
// optional cause and optional details, and are classified at the HTTP
// boundary into a status code and an ErrorResponse body.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Standard error kinds for the application
var (
	ErrValidation = errors.New("validation error")
	ErrRateLimit  = errors.New("rate limit error")
	ErrStore      = errors.New("store error")
	ErrConnection = errors.New("connection error")
	ErrPublish    = errors.New("publish error")
	ErrInternal   = errors.New("internal error")
)

// errorType is a custom error with a specific kind
type errorType struct {
	baseErr error
	msg     string
	cause   error
	details map[string]interface{}
}

type ErrorWithDetails interface {
	Error() string
	Details() map[string]interface{}
}

// Error implements the error interface
func (e *errorType) Error() string {
	if e == nil {
		return ""
	}

	base := fmt.Sprintf("%s: %s", e.baseErr.Error(), e.msg)

	if len(e.details) > 0 {
		detailsJSON, err := json.Marshal(e.details)
		if err == nil {
			base += fmt.Sprintf(" - details: %s", detailsJSON)
		}
	}

	if e.cause != nil {
		base += fmt.Sprintf(" - caused by: %v", e.cause)
	}

	return base
}

// Unwrap returns the underlying cause of the error
func (e *errorType) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether the error is of the specified kind
func (e *errorType) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	return errors.Is(e.baseErr, target)
}

// Details returns the detail map attached to the error
func (e *errorType) Details() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.details
}

func newError(base error, msg string, cause error) error {
	return &errorType{baseErr: base, msg: msg, cause: cause}
}

// NewValidationError creates a new validation error
func NewValidationError(msg string) error {
	return newError(ErrValidation, msg, nil)
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(msg string) error {
	return newError(ErrRateLimit, msg, nil)
}

// NewStoreError creates a new key-value store error
func NewStoreError(msg string, cause error) error {
	return newError(ErrStore, msg, cause)
}

// NewConnectionError creates a new connection error
func NewConnectionError(msg string) error {
	return newError(ErrConnection, msg, nil)
}

// NewPublishError creates a new publish error
func NewPublishError(msg string, cause error) error {
	return newError(ErrPublish, msg, cause)
}


// NewInternalError creates a new internal error
func NewInternalError(msg string) error {
	return newError(ErrInternal, msg, nil)
}

// Wrap wraps an error with additional context. Errors that already carry a
// kind keep it; anything else becomes an internal error.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}

	if customErr, ok := err.(*errorType); ok {
		return &errorType{
			baseErr: customErr.baseErr,
			msg:     msg + ": " + customErr.msg,
			cause:   customErr.cause,
			details: customErr.details,
		}
	}

	return &errorType{
		baseErr: ErrInternal,
		msg:     msg,
		cause:   err,
	}
}

// Unwrap returns the wrapped error, following Go 1.13 error unwrapping convention
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// WithDetails adds detail information to an error
func WithDetails(err error, details map[string]interface{}) error {
	if err == nil {
		return nil
	}

	if customErr, ok := err.(*errorType); ok {
		return &errorType{
			baseErr: customErr.baseErr,
			msg:     customErr.msg,
			cause:   customErr.cause,
			details: details,
		}
	}

	return &errorType{
		baseErr: ErrInternal,
		msg:     err.Error(),
		details: details,
	}
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return err != nil && errors.Is(err, ErrValidation)
}

// IsRateLimitError checks if the error is a rate limit error
func IsRateLimitError(err error) bool {
	return err != nil && errors.Is(err, ErrRateLimit)
}

// IsStoreError checks if the error came from the key-value store
func IsStoreError(err error) bool {
	return err != nil && errors.Is(err, ErrStore)
}

// IsConnectionError checks if the error is a connection error
func IsConnectionError(err error) bool {
	return err != nil && errors.Is(err, ErrConnection)
}

// IsPublishError checks if the error is a publish error
func IsPublishError(err error) bool {
	return err != nil && errors.Is(err, ErrPublish)
}


// IsInternalError checks if the error is an internal error
func IsInternalError(err error) bool {
	return err != nil && errors.Is(err, ErrInternal)
}

// Format returns a properly formatted error string
func Format(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// GetDetails returns error details if available, nil otherwise
func GetDetails(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	if detailedErr, ok := err.(ErrorWithDetails); ok {
		return detailedErr.Details()
	}

	return nil
}

// WithRetryOption adds a retry duration suggestion to an error
func WithRetryOption(err error, retrySeconds int) error {
	if err == nil {
		return nil
	}

	details := map[string]interface{}{}
	for k, v := range GetDetails(err) {
		details[k] = v
	}
	details["retry_after"] = retrySeconds

	return WithDetails(err, details)
}

// GetRetryOption extracts the retry duration from an error if available
func GetRetryOption(err error) (int, bool) {
	details := GetDetails(err)
	if details == nil {
		return 0, false
	}

	if retry, ok := details["retry_after"]; ok {
		if retryInt, ok := retry.(int); ok {
			return retryInt, true
		}
	}

	return 0, false
}

// ErrorResponse provides a consistent structure for error responses
type ErrorResponse struct {
	Status     string                 `json:"status"`
	Message    string                 `json:"message"`
	ErrorType  string                 `json:"error_type"`
	RetryAfter int                    `json:"retry_after,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// TypeOf returns the short name of the error kind
func TypeOf(err error) string {
	switch {
	case IsValidationError(err):
		return "validation"
	case IsRateLimitError(err):
		return "rate_limit"
	case IsStoreError(err):
		return "store"
	case IsConnectionError(err):
		return "connection"
	case IsPublishError(err):
		return "publish"
	default:
		return "internal"
	}
}

// StatusCode maps an error kind onto an HTTP status code
func StatusCode(err error) int {
	switch {
	case IsValidationError(err):
		return http.StatusBadRequest
	case IsRateLimitError(err):
		return http.StatusTooManyRequests
	case IsStoreError(err), IsConnectionError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToErrorResponse converts an error to a standardized ErrorResponse
func ToErrorResponse(err error) ErrorResponse {
	if err == nil {
		return ErrorResponse{
			Status:  "error",
			Message: "Unknown error",
		}
	}

	response := ErrorResponse{
		Status:    "error",
		Message:   Format(err),
		ErrorType: TypeOf(err),
		Details:   GetDetails(err),
	}

	if retry, ok := GetRetryOption(err); ok {
		response.RetryAfter = retry
	}

	return response
}

// FromErrorResponse rebuilds a typed error from a decoded ErrorResponse, so
// clients of the service can use the same Is* predicates as the server.
func FromErrorResponse(resp ErrorResponse) error {
	var base error
	switch resp.ErrorType {
	case "validation":
		base = ErrValidation
	case "rate_limit":
		base = ErrRateLimit
	case "store":
		base = ErrStore
	case "connection":
		base = ErrConnection
	case "publish":
		base = ErrPublish
	default:
		base = ErrInternal
	}

	msg := strings.TrimPrefix(resp.Message, base.Error()+": ")
	if i := strings.Index(msg, " - details: "); i >= 0 && len(resp.Details) > 0 {
		msg = msg[:i]
	}
	err := WithDetails(newError(base, msg, nil), resp.Details)
	if resp.RetryAfter > 0 {
		err = WithRetryOption(err, resp.RetryAfter)
	}
	return err
}
