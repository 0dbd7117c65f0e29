package middleware

import (
	"log/slog"

	"marketplace-ledger/internal/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogContext puts the request id on the request context, so every
// slog record written while serving the request carries it. It runs after
// echo's RequestID middleware, which sets the response header it reads.
func RequestLogContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(logger.WithAttrs(req.Context(), slog.String("request_id", id))))
			}
			return next(c)
		}
	}
}
