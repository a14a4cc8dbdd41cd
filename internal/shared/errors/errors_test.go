package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstream_KeepsCause(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := Upstream("version store unavailable", cause)

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, err.StatusCode)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestUpstream_NilCause(t *testing.T) {
	err := Upstream("version store unavailable", nil)

	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, http.StatusBadGateway, GetStatusCode(err))
}

func TestAsAppError(t *testing.T) {
	t.Run("passthrough", func(t *testing.T) {
		orig := RepoNotFound("alice/bert")
		got := AsAppError(orig)
		require.Same(t, orig, got)
	})

	t.Run("unknown_becomes_internal", func(t *testing.T) {
		cause := stderrors.New("boom")
		got := AsAppError(cause)
		assert.Equal(t, CodeServerError, got.Code)
		assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
		assert.ErrorIs(t, got, cause)
	})
}

func TestGetStatusCode_Sentinels(t *testing.T) {
	for err, want := range map[error]int{
		ErrNotFound:      http.StatusNotFound,
		ErrUnauthorized:  http.StatusUnauthorized,
		ErrForbidden:     http.StatusForbidden,
		ErrBadRequest:    http.StatusBadRequest,
		ErrConflict:      http.StatusConflict,
		ErrQuotaExceeded: http.StatusRequestEntityTooLarge,
		ErrTransient:     http.StatusBadGateway,
	} {
		assert.Equal(t, want, GetStatusCode(err), "sentinel %v", err)
	}
}
