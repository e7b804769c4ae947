package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies a failure class surfaced by the client. The set is
// closed so callers can switch over it exhaustively.
type Code string

const (
	CodeUnauthorized     Code = "unauthorized"
	CodeBadRequest       Code = "bad-request"
	CodePaymentRequired  Code = "payment-required"
	CodeNotFound         Code = "not-found"
	CodeRateLimited      Code = "rate-limited"
	CodeServerError      Code = "server-error"
	CodeNetworkError     Code = "network-error"
	CodeInvalidJSON      Code = "invalid-json"
	CodeSchemaValidation Code = "schema-validation"
)

// SchemaViolation describes one way the model output deviated from the
// requested response schema.
type SchemaViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is the one error type returned by the client. Code is always set.
// HTTPStatus is zero for failures that never produced an HTTP response,
// RetryAfter is set only when a rate-limited response advertised one, and
// Violations only accompanies schema-validation failures.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	RetryAfter time.Duration
	Details    string
	Violations []SchemaViolation
	Cause      error
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("llm: %s (status %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("llm: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// AsError extracts an *Error from anywhere in err's chain.
func AsError(err error) (*Error, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	le, ok := AsError(err)
	return ok && le.Code == code
}

func badRequest(format string, args ...any) *Error {
	return &Error{Code: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

// classifyStatus maps a non-2xx upstream status to a taxonomy code.
// Statuses without a dedicated code fall back to bad-request below 500
// and server-error at or above it.
func classifyStatus(status int) Code {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusPaymentRequired:
		return CodePaymentRequired
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusTooManyRequests:
		return CodeRateLimited
	}
	if status >= 500 {
		return CodeServerError
	}
	return CodeBadRequest
}
