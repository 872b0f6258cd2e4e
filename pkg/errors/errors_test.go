package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := NewAppError(CodeMissingParameter, "firstname is required", nil)

	assert.True(t, errors.Is(err, ErrMissingParameter))
	assert.False(t, errors.Is(err, ErrInvalidCredentials))

	wrapped := fmt.Errorf("signup: %w", err)
	assert.True(t, errors.Is(wrapped, ErrMissingParameter))
}

func TestAppError_HTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		CodeMissingParameter:   http.StatusPreconditionFailed,
		CodeInvalidCredentials: http.StatusUnauthorized,
		CodeInvalidToken:       http.StatusUnauthorized,
		CodeConflict:           http.StatusConflict,
		CodeHashing:            http.StatusInternalServerError,
		ErrorCode("UNKNOWN"):   http.StatusInternalServerError,
	}

	for code, status := range cases {
		assert.Equal(t, status, NewAppError(code, "x", nil).HTTPStatus(), "code %s", code)
	}
}

func TestAppError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewAppError(CodeInternalError, "find user", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "noop"))

	plain := WrapError(errors.New("boom"), "storage failed")
	appErr, ok := As(plain)
	require.True(t, ok)
	assert.Equal(t, CodeInternalError, appErr.Code)

	typed := WrapError(ErrInvalidToken, "auth failed")
	appErr, ok = As(typed)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidToken, appErr.Code)
	assert.Equal(t, "auth failed", appErr.Message)
}

func TestToErrorResponse(t *testing.T) {
	resp := ErrInvalidCredentials.ToErrorResponse("trace-1")

	assert.False(t, resp.OK)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeInvalidCredentials, resp.Code)
	assert.Equal(t, "invalid credentials", resp.Message)
	assert.Equal(t, "trace-1", resp.TraceID)
}
