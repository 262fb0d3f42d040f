package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"Calibra/internal/domain/models"
	xhttp "Calibra/pkg/http"
	applogger "Calibra/pkg/logger"
	"Calibra/pkg/util"
)

// Evaluate answers a candidate signal with an accept or a reject. Malformed
// candidates get a 400 that still carries a rejection decision.
func (h *Handler) Evaluate(c echo.Context) error {
	defer h.observe("evaluate", time.Now())

	var cand models.CandidateSignal
	if err := c.Bind(&cand); err != nil {
		return xhttp.BadRequestResponse(c, []*xhttp.AppError{xhttp.BadRequestError("malformed candidate").WithError(err)})
	}

	d, err := h.evaluator.Evaluate(c.Request().Context(), cand)
	if err != nil {
		if errors.Is(err, models.ErrInvalidSignal) || errors.Is(err, models.ErrNoReference) {
			return xhttp.BadRequestResponse(c, &models.EvaluationDecision{
				Symbol:    util.NormalizeSymbol(cand.Symbol),
				Pattern:   cand.Pattern,
				Direction: cand.Direction,
				Reason:    err.Error(),
				DecidedAt: time.Now().UTC(),
			})
		}
		h.fail("evaluate", err)
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.SuccessResponse(c, d)
}

// Ticks feeds one quote into the tick pipeline.
func (h *Handler) Ticks(c echo.Context) error {
	defer h.observe("ticks", time.Now())

	req := &models.TickRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	t := &models.Tick{
		Symbol:    util.NormalizeSymbol(req.Symbol),
		Bid:       req.Bid,
		Ask:       req.Ask,
		Timestamp: util.ParseTimeDefault(req.Timestamp(), time.Now().UTC()),
	}
	if err := h.ticks.Process(c.Request().Context(), t); err != nil {
		if errors.Is(err, models.ErrInvalidTick) {
			return xhttp.BadRequestResponse(c, []*xhttp.AppError{xhttp.BadRequestError(err.Error())})
		}
		h.fail("ticks", err)
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("tick buffered for retry"))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbol": t.Symbol,
		"open":   len(h.monitor.OpenFor(t.Symbol)),
	})
}

// OpenSignals lists signals still awaiting resolution.
func (h *Handler) OpenSignals(c echo.Context) error {
	defer h.observe("signals_open", time.Now())

	req := &models.OpenSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var open []models.TrackedSignal
	if req.Symbol != "" {
		open = h.monitor.OpenFor(util.NormalizeSymbol(req.Symbol))
	} else {
		open = h.monitor.Open()
	}
	total := len(open)
	if len(open) > req.Limit {
		open = open[:req.Limit]
	}
	h.logger.Debug("open signals listed", applogger.Int("total", total), applogger.String("symbol", req.Symbol))
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"rows":  open,
		"total": total,
	})
}
