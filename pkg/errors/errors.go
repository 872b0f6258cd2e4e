package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	CodeMissingParameter    ErrorCode = "MISSING_PARAMETER"
	CodeInvalidCredentials  ErrorCode = "INVALID_CREDENTIALS"
	CodeInvalidToken        ErrorCode = "INVALID_TOKEN"
	CodeUnauthenticated     ErrorCode = "UNAUTHENTICATED"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeConflict            ErrorCode = "CONFLICT"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeIdempotencyConflict ErrorCode = "IDEMPOTENCY_CONFLICT"
	CodeBadRequest          ErrorCode = "BAD_REQUEST"
	CodeHashing             ErrorCode = "HASHING_ERROR"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatusMap maps error codes to HTTP status codes
var HTTPStatusMap = map[ErrorCode]int{
	CodeMissingParameter:    http.StatusPreconditionFailed,
	CodeInvalidCredentials:  http.StatusUnauthorized,
	CodeInvalidToken:        http.StatusUnauthorized,
	CodeUnauthenticated:     http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeIdempotencyConflict: http.StatusConflict,
	CodeBadRequest:          http.StatusBadRequest,
	CodeHashing:             http.StatusInternalServerError,
	CodeInternalError:       http.StatusInternalServerError,
}

// Sentinels for errors.Is checks. Matching is done on the code only, so any
// AppError carrying the same code satisfies errors.Is against these values.
var (
	ErrMissingParameter   = &AppError{Code: CodeMissingParameter, Message: "missing/malformed field(s) in request"}
	ErrInvalidCredentials = &AppError{Code: CodeInvalidCredentials, Message: "invalid credentials"}
	ErrInvalidToken       = &AppError{Code: CodeInvalidToken, Message: "You are not authorized to view this resource"}
	ErrUnauthenticated    = &AppError{Code: CodeUnauthenticated, Message: "user is not authenticated"}
	ErrForbidden          = &AppError{Code: CodeForbidden, Message: "client is not authorized"}
	ErrNotFound           = &AppError{Code: CodeNotFound, Message: "resource not found"}
	ErrConflict           = &AppError{Code: CodeConflict, Message: "resource already exists"}
	ErrHashing            = &AppError{Code: CodeHashing, Message: "failed to process password"}
)

// ErrorResponse represents the standardized error response structure
type ErrorResponse struct {
	OK         bool      `json:"ok"`
	StatusCode int       `json:"statusCode"`
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	TraceID    string    `json:"trace_id,omitempty"`
}

// AppError represents an application error with code and message
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewAppError creates a new AppError
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorf creates a new AppError with formatted message
func NewAppErrorf(code ErrorCode, cause error, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// ToErrorResponse converts AppError to ErrorResponse
func (e *AppError) ToErrorResponse(traceID string) ErrorResponse {
	return ErrorResponse{
		OK:         false,
		StatusCode: e.HTTPStatus(),
		Code:       e.Code,
		Message:    e.Message,
		TraceID:    traceID,
	}
}

// HTTPStatus returns the HTTP status code for this error
func (e *AppError) HTTPStatus() int {
	if status, exists := HTTPStatusMap[e.Code]; exists {
		return status
	}
	return http.StatusInternalServerError
}

// As extracts the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// WrapError wraps an error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return NewAppError(appErr.Code, message, err)
	}
	return NewAppError(CodeInternalError, message, err)
}
