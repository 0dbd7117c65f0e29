package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace-ledger/internal/config"
	"marketplace-ledger/internal/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDReachesServiceLogs(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(config.Log{Level: "info", Format: "json"}, &buf)

	e := echo.New()
	e.Use(echomw.RequestID(), RequestLogContext())
	e.GET("/", func(c echo.Context) error {
		l.InfoContext(c.Request().Context(), "handled")
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-42")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "handled", entry["msg"])
	assert.Equal(t, "req-42", entry["request_id"])
}

func TestGeneratedRequestIDIsLogged(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(config.Log{Level: "info", Format: "json"}, &buf)

	e := echo.New()
	e.Use(echomw.RequestID(), RequestLogContext())
	e.GET("/", func(c echo.Context) error {
		l.InfoContext(c.Request().Context(), "handled")
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	id := rec.Header().Get(echo.HeaderXRequestID)
	require.NotEmpty(t, id)
	assert.Equal(t, id, entry["request_id"])
}
