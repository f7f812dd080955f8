package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithAgent("MASTER_COO")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "[UPSTREAM_ERROR] upstream failed: root", err.Error())
	assert.Equal(t, "MASTER_COO", err.Agent)
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrSessionBusy, "busy")
	wrapped := fmt.Errorf("chat: %w", inner)

	got, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.True(t, IsErrorCode(wrapped, ErrSessionBusy))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestFromHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{http.StatusBadRequest, ErrInvalidRequest, false},
		{http.StatusUnauthorized, ErrAuthentication, false},
		{http.StatusForbidden, ErrAuthentication, false},
		{http.StatusNotFound, ErrNotFound, false},
		{http.StatusTooManyRequests, ErrRateLimited, true},
		{http.StatusGatewayTimeout, ErrUpstreamTimeout, true},
		{http.StatusServiceUnavailable, ErrServiceUnavailable, true},
		{http.StatusInternalServerError, ErrUpstreamError, true},
		{http.StatusBadGateway, ErrUpstreamError, true},
	}
	for _, tt := range tests {
		e := FromHTTPStatus(tt.status, "x")
		assert.Equal(t, tt.code, e.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, e.Retryable, "status %d", tt.status)
		assert.Equal(t, tt.status, e.HTTPStatus)
	}
}
