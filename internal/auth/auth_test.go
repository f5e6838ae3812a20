package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/mafia-backend/internal/failure"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestNewProvider_Validates(t *testing.T) {
	_, err := NewProvider(" ", time.Hour, nil)
	assert.Error(t, err)
	_, err = NewProvider("secret", 0, nil)
	assert.Error(t, err)
}

func TestNewIdentity(t *testing.T) {
	id, err := NewIdentity("  Alice ")
	require.NoError(t, err)
	assert.Equal(t, "Alice", id.Name)
	assert.Len(t, id.ID, 36)

	_, err = NewIdentity("")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = NewIdentity("a name that is far too long to be shown")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestProvider_IssueParse(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p, err := NewProvider("secret", time.Hour, fixedClock(now))
	require.NoError(t, err)

	token, exp, err := p.Issue(Identity{ID: "u1", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	got, err := p.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "u1", Name: "Alice"}, got)
}

func TestProvider_Parse_Rejects(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p, err := NewProvider("secret", time.Hour, fixedClock(now))
	require.NoError(t, err)
	token, _, err := p.Issue(Identity{ID: "u1", Name: "Alice"})
	require.NoError(t, err)

	other, err := NewProvider("other-secret", time.Hour, fixedClock(now))
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.Equal(t, failure.CodeUnauthenticated, failure.CodeOf(err))

	later, err := NewProvider("secret", time.Hour, fixedClock(now.Add(2*time.Hour)))
	require.NoError(t, err)
	_, err = later.Parse(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = p.Parse("not-a-token")
	assert.Equal(t, failure.CodeUnauthenticated, failure.CodeOf(err))

	_, err = p.Parse("")
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestProvider_Identify(t *testing.T) {
	p, err := NewProvider("secret", time.Hour, nil)
	require.NoError(t, err)
	token, exp, err := p.Issue(Identity{ID: "u1", Name: "Alice"})
	require.NoError(t, err)

	bearer := httptest.NewRequest(http.MethodGet, "/", nil)
	bearer.Header.Set("Authorization", "Bearer "+token)
	id, err := p.Identify(bearer)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)

	rec := httptest.NewRecorder()
	p.SetCookie(rec, token, exp, false)
	cookie := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		cookie.AddCookie(c)
	}
	id, err = p.Identify(cookie)
	require.NoError(t, err)
	assert.Equal(t, "Alice", id.Name)

	_, err = p.Identify(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoIdentity)

	basic := httptest.NewRequest(http.MethodGet, "/", nil)
	basic.Header.Set("Authorization", "Basic abc")
	_, err = p.Identify(basic)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
