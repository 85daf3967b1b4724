package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		CodeUnknown,
		CodeValidation,
		CodeConfiguration,
		CodeUnexpected,
		CodeAuthRequired,
		CodeAuthExpired,
		CodeAuthFailed,
		CodeInFlight,
		CodeResolution,
		CodeNothingToExport,
		CodeStorage,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		assert.NotEmpty(t, string(code))
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestScanError(t *testing.T) {
	t.Run("basic error creation", func(t *testing.T) {
		err := NewScanError(CodeUnexpected, "boom")
		assert.Equal(t, CodeUnexpected, err.Code)
		assert.Equal(t, "boom", err.Message)
		assert.NotNil(t, err.Context)
		assert.Equal(t, "[UNEXPECTED] boom", err.Error())
	})

	t.Run("error with target", func(t *testing.T) {
		err := ErrAuthRequired("10.0.0.5")
		assert.Equal(t, "10.0.0.5", err.Target)
		assert.Equal(t, "[AUTH_REQUIRED] Authentication required. Please log in. (target: 10.0.0.5)", err.Error())
	})

	t.Run("wrapped cause", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := ErrUnexpected("10.0.0.5", "connection refused", cause)
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("with context", func(t *testing.T) {
		err := (&ScanError{Code: CodeUnexpected}).WithContext("status", 500)
		assert.Equal(t, 500, err.Context["status"])
	})
}

func TestAuthError(t *testing.T) {
	err := NewAuthError(CodeAuthFailed, "invalid credentials")
	assert.Equal(t, "invalid credentials", err.Error())

	cause := fmt.Errorf("HTTP 401")
	wrapped := WrapAuthError(CodeAuthFailed, MsgLoginFailed, cause)
	assert.Equal(t, MsgLoginFailed, wrapped.Error())
	assert.True(t, errors.Is(wrapped, cause))
}

func TestStorageAndConfigErrors(t *testing.T) {
	cause := fmt.Errorf("disk full")
	serr := WrapStorageError("set authToken", cause)
	assert.Contains(t, serr.Error(), "operation: set authToken")
	assert.True(t, errors.Is(serr, cause))

	cerr := ErrConfigInvalid("backend.base_url", "ftp://x")
	assert.Contains(t, cerr.Error(), "field: backend.base_url")
	assert.Equal(t, CodeValidation, cerr.Code)

	missing := ErrConfigMissing("session.path")
	assert.Equal(t, CodeConfiguration, missing.Code)
	assert.Nil(t, missing.Unwrap())
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"plain", fmt.Errorf("plain"), CodeUnknown},
		{"scan", ErrAuthExpired("h", nil), CodeAuthExpired},
		{"auth", NewAuthError(CodeAuthFailed, "x"), CodeAuthFailed},
		{"storage", WrapStorageError("get", nil), CodeStorage},
		{"config", ErrConfigMissing("x"), CodeConfiguration},
		{"wrapped", fmt.Errorf("outer: %w", ErrInFlight("h")), CodeInFlight},
		{"nothing to export", ErrNothingToExport, CodeNothingToExport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetCode(tt.err))
			assert.True(t, IsCode(tt.err, tt.want))
		})
	}
}

func TestIsAuthProblem(t *testing.T) {
	assert.True(t, IsAuthProblem(ErrAuthRequired("h")))
	assert.True(t, IsAuthProblem(ErrAuthExpired("h", nil)))
	assert.False(t, IsAuthProblem(ErrUnexpected("h", "x", nil)))
	assert.False(t, IsAuthProblem(nil))
}
