package status

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeOK, http.StatusOK},
		{CodeInvalidURI, http.StatusBadRequest},
		{CodeUnauthenticated, http.StatusUnauthorized},
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeSessionExpired, http.StatusGone},
		{CodeFailedPrecondition, http.StatusPreconditionFailed},
		{CodeResourceExhausted, http.StatusTooManyRequests},
		{CodeEmbeddingFailed, http.StatusInternalServerError},
		{CodeUnimplemented, http.StatusNotImplemented},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeDeadlineExceeded, http.StatusGatewayTimeout},
		{Code("BOGUS"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.code), string(tt.code))
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := Internal("write failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INTERNAL")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "disk full", err.Details["cause"])
}

func TestFromError(t *testing.T) {
	orig := NotFound("no such uri %q", "viking://resources/x")
	wrapped := fmt.Errorf("ls: %w", orig)

	got := FromError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, CodeNotFound, got.Code)

	foreign := FromError(errors.New("boom"))
	assert.Equal(t, CodeInternal, foreign.Code)
	assert.Equal(t, "boom", foreign.Message)

	assert.Nil(t, FromError(nil))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, CodeAlreadyExists, CodeOf(AlreadyExists("taken")))
	assert.True(t, IsAlreadyExists(fmt.Errorf("x: %w", AlreadyExists("taken"))))
	assert.True(t, IsNotFound(NotFound("gone")))
	assert.False(t, IsNotFound(errors.New("gone")))
}
