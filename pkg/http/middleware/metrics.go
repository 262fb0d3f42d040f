package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
	httpOnce     sync.Once
)

func initHTTPMetrics() {
	httpOnce.Do(func() {
		httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "calibra_http_requests_total",
			Help: "HTTP requests by route template, method and status class.",
		}, []string{"route", "method", "class"})
		httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calibra_http_request_duration_seconds",
			Help:    "HTTP request latency by route template.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route", "method"})
		httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "calibra_http_in_flight_requests",
			Help: "Requests currently being served.",
		})
	})
}

// Metrics counts requests by Echo route template so that pattern names in
// paths do not explode label cardinality. Paths in skip are not recorded.
func Metrics(skip ...string) echo.MiddlewareFunc {
	initHTTPMetrics()
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		if p != "" {
			skipped[p] = true
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipped[c.Request().URL.Path] {
				return next(c)
			}
			httpInFlight.Inc()
			defer httpInFlight.Dec()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			httpRequests.WithLabelValues(route, method, statusClass(c.Response().Status)).Inc()
			httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
