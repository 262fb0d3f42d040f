package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	applogger "Calibra/pkg/logger"
)

func newEcho() *echo.Echo {
	e := echo.New()
	e.Use(Recover(applogger.NewNop()))
	e.Use(Metrics("/metrics"))
	e.Use(RequestLogging(applogger.NewNop(), 0))
	e.GET("/api/patterns/:pattern", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("pattern"))
	})
	e.GET("/boom", func(echo.Context) error { panic("kaboom") })
	e.GET("/metrics", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return e
}

func serve(e *echo.Echo, path string) int {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestMetricsLabelByRouteTemplate(t *testing.T) {
	e := newEcho()
	before := testutil.ToFloat64(httpRequests.WithLabelValues("/api/patterns/:pattern", "GET", "2xx"))

	serve(e, "/api/patterns/BULL_FLAG")
	serve(e, "/api/patterns/DOUBLE_TOP")
	serve(e, "/metrics")

	after := testutil.ToFloat64(httpRequests.WithLabelValues("/api/patterns/:pattern", "GET", "2xx"))
	assert.Equal(t, 2.0, after-before)
	assert.Equal(t, 0.0, testutil.ToFloat64(httpRequests.WithLabelValues("/metrics", "GET", "2xx")))
}

func TestRecoverReturns500(t *testing.T) {
	e := newEcho()
	assert.Equal(t, http.StatusInternalServerError, serve(e, "/boom"))
	assert.Equal(t, http.StatusNotFound, serve(e, "/nope"))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "other", statusClass(0))
}
