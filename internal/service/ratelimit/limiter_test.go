package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestAllowBurstThenRefill(t *testing.T) {
	clock := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	l := New(1, 2)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")

	clock = clock.Add(time.Second)
	assert.True(t, l.Allow("a"))
}

func TestPruneIdleBuckets(t *testing.T) {
	clock := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	l := New(1, 1)
	l.now = func() time.Time { return clock }
	l.Allow("a")
	clock = clock.Add(time.Hour)
	l.Allow("b")

	assert.Equal(t, 1, l.Prune(time.Minute))
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	e := echo.New()
	l := New(0.001, 1)
	e.Use(l.Middleware())
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
