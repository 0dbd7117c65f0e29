package middleware

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"marketplace-ledger/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	userIDKey = "user_id"
	roleKey   = "role"

	WebhookSecretHeader = "X-Webhook-Secret"
)

// Claims carries the caller's identity: Subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for userID. Used by the dev token command
// and tests; production tokens come from the identity service.
func IssueToken(secret, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AuthMiddleware validates the bearer token and stores the caller's user id
// and role on the context.
func AuthMiddleware(secret string) echo.MiddlewareFunc {
	key := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				return fmt.Errorf("missing bearer token: %w", apperr.ErrUnauthorized)
			}

			claims := &Claims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil {
				return fmt.Errorf("parse token: %v: %w", err, apperr.ErrUnauthorized)
			}
			if claims.Subject == "" {
				return fmt.Errorf("token has no subject: %w", apperr.ErrUnauthorized)
			}

			role := claims.Role
			if role == "" {
				role = RoleUser
			}
			c.Set(userIDKey, claims.Subject)
			c.Set(roleKey, role)
			return next(c)
		}
	}
}

func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !IsAdmin(c) {
				return fmt.Errorf("admin role required: %w", apperr.ErrForbidden)
			}
			return next(c)
		}
	}
}

// WebhookAuth checks the shared secret sent by payment and payout providers.
func WebhookAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get(WebhookSecretHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				return fmt.Errorf("bad webhook secret: %w", apperr.ErrUnauthorized)
			}
			return next(c)
		}
	}
}

func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func IsAdmin(c echo.Context) bool {
	role, _ := c.Get(roleKey).(string)
	return role == RoleAdmin
}
