package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type healthReport struct {
	Status      string            `json:"status"`
	Uptime      string            `json:"uptime"`
	OpenSignals int               `json:"open_signals"`
	Entries     int               `json:"entries"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// Healthz reports liveness plus the state of optional dependencies. Any
// failing check turns the answer into a 503.
func (h *Handler) Healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	rep := healthReport{
		Status:      "ok",
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		OpenSignals: h.monitor.Count(),
		Entries:     h.recorder.Aggregator().EntryCount(),
	}
	code := http.StatusOK
	if len(h.checks) > 0 {
		rep.Checks = make(map[string]string, len(h.checks))
		for _, chk := range h.checks {
			if err := chk.Check(ctx); err != nil {
				rep.Checks[chk.Name] = err.Error()
				rep.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			rep.Checks[chk.Name] = "ok"
		}
	}
	return c.JSON(code, rep)
}
