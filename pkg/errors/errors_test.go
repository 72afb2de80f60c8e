package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewValidationError("bad input")
	assert.Equal(t, "VALIDATION_ERROR: bad input", err.Error())

	wrapped := NewInternalError("query failed").WithCause(stderrors.New("conn refused"))
	assert.Contains(t, wrapped.Error(), "query failed")
	assert.Contains(t, wrapped.Error(), "conn refused")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("root")
	err := NewExternalError("svc", "call failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
}

func TestAppError_WithDetail(t *testing.T) {
	err := NewLookupError("abc", "lookup failed")

	assert.Equal(t, "abc", err.Details["identity_key"])
	assert.Equal(t, ErrorTypeExternal, err.Type)
}

func TestIsType(t *testing.T) {
	assert.True(t, IsType(NewRateLimitError("slow down"), ErrorTypeRateLimit))
	assert.False(t, IsType(NewRateLimitError("slow down"), ErrorTypeTimeout))
	assert.False(t, IsType(stderrors.New("plain"), ErrorTypeInternal))
	assert.False(t, IsType(nil, ErrorTypeInternal))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("job")))
	assert.False(t, IsNotFound(NewInternalError("oops")))
}

func TestGetCodeAndType(t *testing.T) {
	err := NewJobError("job-1", "stuck")

	assert.Equal(t, "JOB_ERROR", GetCode(err))
	assert.Equal(t, ErrorTypeInternal, GetType(err))
	assert.Equal(t, "UNKNOWN_ERROR", GetCode(stderrors.New("plain")))
	assert.Equal(t, ErrorTypeInternal, GetType(stderrors.New("plain")))
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err      *AppError
		expected ErrorType
	}{
		{NewValidationError("v"), ErrorTypeValidation},
		{NewAuthenticationError("a"), ErrorTypeAuthentication},
		{NewNotFoundError("n"), ErrorTypeNotFound},
		{NewConflictError("c"), ErrorTypeConflict},
		{NewRateLimitError("r"), ErrorTypeRateLimit},
		{NewInternalError("i"), ErrorTypeInternal},
		{NewExternalError("svc", "e"), ErrorTypeExternal},
		{NewTimeoutError("op"), ErrorTypeTimeout},
		{NewCanceledError("stop"), ErrorTypeCanceled},
		{NewSelectorError("bad schema"), ErrorTypeValidation},
	}

	for _, tt := range tests {
		require.NotNil(t, tt.err)
		assert.Equal(t, tt.expected, tt.err.Type, tt.err.Code)
	}
}
