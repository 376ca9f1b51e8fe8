package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_BuildersAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(ErrUpstreamError, "daily request failed").
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider("daily")

	assert.Equal(t, ErrUpstreamError, err.Code)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
	assert.True(t, err.Retryable)
	assert.Equal(t, "daily", err.Provider)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "daily request failed")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrSessionExists, GetErrorCode(NewError(ErrSessionExists, "dup")))
	assert.Equal(t, ErrInternalError, GetErrorCode(errors.New("plain")))
	assert.Equal(t, ErrInternalError, GetErrorCode(nil))

	wrapped := fmt.Errorf("outer: %w", NewError(ErrSessionNotFound, "gone"))
	assert.Equal(t, ErrSessionNotFound, GetErrorCode(wrapped))
}

func TestMessageConstructors(t *testing.T) {
	m := NewUserMessage("hi")
	require.Equal(t, RoleUser, m.Role)
	assert.Equal(t, "hi", m.Content)
	assert.False(t, m.Timestamp.IsZero())

	assert.Equal(t, RoleSystem, NewSystemMessage("s").Role)
	assert.Equal(t, RoleAssistant, NewAssistantMessage("a").Role)
}
