package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-ledger/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

func run(t *testing.T, mw echo.MiddlewareFunc, header, value string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	err := mw(func(echo.Context) error { return nil })(c)
	return c, err
}

func TestAuthMiddleware(t *testing.T) {
	tok, err := IssueToken(secret, "u1", RoleAdmin, time.Minute)
	require.NoError(t, err)

	c, err := run(t, AuthMiddleware(secret), echo.HeaderAuthorization, "Bearer "+tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", UserID(c))
	assert.True(t, IsAdmin(c))

	_, err = run(t, AuthMiddleware(secret), "", "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = run(t, AuthMiddleware(secret), echo.HeaderAuthorization, tok)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized, "missing Bearer prefix")

	_, err = run(t, AuthMiddleware("other"), echo.HeaderAuthorization, "Bearer "+tok)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestAuthMiddlewareDefaultsRoleAndRejectsOtherAlgs(t *testing.T) {
	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u2",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	c, err := run(t, AuthMiddleware(secret), echo.HeaderAuthorization, "Bearer "+noRole)
	require.NoError(t, err)
	assert.Equal(t, "u2", UserID(c))
	assert.False(t, IsAdmin(c))

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u3"},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = run(t, AuthMiddleware(secret), echo.HeaderAuthorization, "Bearer "+hs512)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	noSubject, err := IssueToken(secret, "", RoleUser, time.Minute)
	require.NoError(t, err)
	_, err = run(t, AuthMiddleware(secret), echo.HeaderAuthorization, "Bearer "+noSubject)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestRequireAdmin(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	next := func(echo.Context) error { return nil }

	c.Set(roleKey, RoleUser)
	assert.ErrorIs(t, RequireAdmin()(next)(c), apperr.ErrForbidden)

	c.Set(roleKey, RoleAdmin)
	assert.NoError(t, RequireAdmin()(next)(c))
}

func TestWebhookAuth(t *testing.T) {
	_, err := run(t, WebhookAuth("hook"), WebhookSecretHeader, "hook")
	assert.NoError(t, err)

	_, err = run(t, WebhookAuth("hook"), WebhookSecretHeader, "nope")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = run(t, WebhookAuth("hook"), "", "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
