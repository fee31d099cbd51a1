package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/hat-overlay/pkg/client"
	"github.com/menta2k/hat-overlay/pkg/types"
)

func serve(t *testing.T, handler echo.HandlerFunc, observe Observer) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Use(Middleware(observe))
	e.GET("/", handler)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func TestMiddleware_WritesStructuredJSON(t *testing.T) {
	var seen []ErrorType
	rec := serve(t, func(c echo.Context) error {
		return types.ErrEmptyPhoto
	}, func(et ErrorType) { seen = append(seen, et) })

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "image is required", body["error"])
	assert.Equal(t, "validation", body["type"])
	assert.Equal(t, []ErrorType{TypeValidation}, seen)
}

func TestMiddleware_RejectedCarriesUpstreamStatus(t *testing.T) {
	rec := serve(t, func(c echo.Context) error {
		return &client.RejectedError{StatusCode: 429, Detail: "RESOURCE_EXHAUSTED: quota"}
	}, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, TypeUpstreamRejected, body.Type)
	assert.Equal(t, "RESOURCE_EXHAUSTED: quota", body.Detail)
	assert.EqualValues(t, 429, body.Context["upstream_status"])
}

func TestMiddleware_PassesEchoErrors(t *testing.T) {
	var seen []ErrorType
	rec := serve(t, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too big")
	}, func(et ErrorType) { seen = append(seen, et) })

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, []ErrorType{TypeValidation}, seen)
}

func TestMiddleware_NoError(t *testing.T) {
	rec := serve(t, func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, func(ErrorType) { t.Fatal("observer must not be called") })

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_Unknown(t *testing.T) {
	rec := serve(t, func(c echo.Context) error {
		return errors.New("kaboom")
	}, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "kaboom")
}
