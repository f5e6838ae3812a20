package failure

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	base := New(CodeForbidden, "only the host can start")
	wrapped := fmt.Errorf("start: %w", base)

	assert.Equal(t, CodeForbidden, CodeOf(base))
	assert.Equal(t, CodeForbidden, CodeOf(wrapped))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.True(t, errors.Is(wrapped, base))
}

func TestWrapKeepsCauseOutOfMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeStorage, "failed to save session", cause)

	assert.Equal(t, "failed to save session", MessageOf(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal error", MessageOf(errors.New("raw")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeUnauthenticated:     http.StatusUnauthorized,
		CodeNotFound:            http.StatusNotFound,
		CodeInvalidState:        http.StatusConflict,
		CodeInsufficientPlayers: http.StatusConflict,
		CodeAlreadyStarted:      http.StatusConflict,
		CodeForbidden:           http.StatusForbidden,
		CodeValidation:          http.StatusBadRequest,
		CodeAlreadyTerminal:     http.StatusGone,
		CodeStorage:             http.StatusInternalServerError,
		CodeUnknown:             http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), string(code))
	}
}
