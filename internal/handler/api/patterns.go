package api

import (
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"Calibra/internal/domain/models"
	"Calibra/internal/services/performance"
	xhttp "Calibra/pkg/http"
	applogger "Calibra/pkg/logger"
)

const (
	keyPatterns = "api:patterns"
	keyPairs    = "api:pairs"
	keySessions = "api:sessions"
)

// PatternView is a pattern aggregate with its lifecycle.
type PatternView struct {
	models.PatternRecord
	Lifecycle models.PatternLifecycle `json:"lifecycle"`
}

type patternPairView struct {
	models.PatternPairRecord
	WinRate float64          `json:"win_rate"`
	State   models.PairState `json:"state"`
}

type pairsView struct {
	Pairs        []models.PairRecord `json:"pairs"`
	PatternPairs []patternPairView   `json:"pattern_pairs"`
}

type sessionsView struct {
	Sessions []models.SessionRecord `json:"sessions"`
	Combos   []models.ComboRecord   `json:"combos"`
}

func (h *Handler) snapshot() performance.Snapshot {
	return h.recorder.Aggregator().Snapshot()
}

func (h *Handler) patternView(rec models.PatternRecord) PatternView {
	lc := h.recorder.Lifecycle()
	lc.Annotate(&rec)
	return PatternView{PatternRecord: rec, Lifecycle: lc.State(rec.Pattern)}
}

// Patterns lists every pattern with aggregates and lifecycle state.
func (h *Handler) Patterns(c echo.Context) error {
	defer h.observe("patterns", time.Now())

	var cached []PatternView
	v := h.cached(c.Request().Context(), "patterns", keyPatterns, &cached, func() interface{} {
		snap := h.snapshot()
		out := make([]PatternView, 0, len(snap.Patterns))
		for _, rec := range snap.Patterns {
			out = append(out, h.patternView(rec))
		}
		return out
	})
	return xhttp.SuccessResponse(c, v)
}

// Pattern returns one pattern.
func (h *Handler) Pattern(c echo.Context) error {
	defer h.observe("pattern", time.Now())

	req := &models.PatternRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, ok := h.recorder.Aggregator().Pattern(strings.ToUpper(req.Pattern))
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("pattern not found").WithParam("pattern", req.Pattern))
	}
	return xhttp.SuccessResponse(c, h.patternView(rec))
}

// ResetPattern returns a pattern to ACTIVE with fresh baselines.
func (h *Handler) ResetPattern(c echo.Context) error {
	defer h.observe("pattern_reset", time.Now())

	req := &models.ResetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	d, err := h.recorder.Reset(ctx, strings.ToUpper(req.Pattern), req.Operator)
	if err != nil {
		if errors.Is(err, models.ErrUnknownPattern) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundError("pattern not found").WithParam("pattern", req.Pattern))
		}
		h.fail("pattern_reset", err)
		return xhttp.InternalServerErrorResponse(c)
	}
	h.invalidate(ctx, keyPatterns, keyPairs)
	h.logger.Info("pattern reset",
		applogger.String("pattern", d.Pattern),
		applogger.String("operator", req.Operator),
		applogger.String("from", d.From))
	return xhttp.SuccessResponse(c, d)
}

// Pairs lists per-symbol aggregates and pattern-pair states.
func (h *Handler) Pairs(c echo.Context) error {
	defer h.observe("pairs", time.Now())

	var cached pairsView
	v := h.cached(c.Request().Context(), "pairs", keyPairs, &cached, func() interface{} {
		snap := h.snapshot()
		lc := h.recorder.Lifecycle()
		out := pairsView{Pairs: snap.Pairs, PatternPairs: make([]patternPairView, 0, len(snap.PatternPairs))}
		for _, pp := range snap.PatternPairs {
			out.PatternPairs = append(out.PatternPairs, patternPairView{
				PatternPairRecord: pp,
				WinRate:           pp.WinRate(),
				State:             lc.PairState(pp.Pattern, pp.Symbol),
			})
		}
		return out
	})
	return xhttp.SuccessResponse(c, v)
}

// Sessions lists session aggregates and the combo index.
func (h *Handler) Sessions(c echo.Context) error {
	defer h.observe("sessions", time.Now())

	var cached sessionsView
	v := h.cached(c.Request().Context(), "sessions", keySessions, &cached, func() interface{} {
		snap := h.snapshot()
		return sessionsView{Sessions: snap.Sessions, Combos: snap.Combos}
	})
	return xhttp.SuccessResponse(c, v)
}
