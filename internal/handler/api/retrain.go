package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"Calibra/internal/domain/models"
	"Calibra/internal/services/retrain"
	xhttp "Calibra/pkg/http"
	applogger "Calibra/pkg/logger"
)

func (h *Handler) RetrainStatus(c echo.Context) error {
	defer h.observe("retrain_status", time.Now())
	return xhttp.SuccessResponse(c, h.retrain.Status())
}

// RetrainTrigger requests a retrain outside the automatic schedule. With a
// job queue the request is enqueued; otherwise it is handed to the checker.
func (h *Handler) RetrainTrigger(c echo.Context) error {
	defer h.observe("retrain_trigger", time.Now())

	req := &models.RetrainTriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.retrain.Status().Running {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("retrain already running"))
	}

	if h.queue != nil {
		id, err := h.queue.Enqueue(c.Request().Context(), retrain.JobType, retrain.TriggerPayload{
			Reason:   req.Reason,
			Operator: c.RealIP(),
		})
		if err != nil {
			h.fail("retrain_trigger", err)
			return xhttp.InternalServerErrorResponse(c)
		}
		h.logger.Info("retrain enqueued", applogger.String("job_id", id), applogger.String("reason", req.Reason))
		return xhttp.AcceptedResponse(c, map[string]string{"job_id": id, "reason": req.Reason})
	}

	if err := h.retrain.Trigger(req.Reason); err != nil {
		if errors.Is(err, retrain.ErrAlreadyRunning) {
			return xhttp.AppErrorResponse(c, xhttp.ConflictError("retrain already running or pending"))
		}
		h.fail("retrain_trigger", err)
		return xhttp.InternalServerErrorResponse(c)
	}
	h.logger.Info("retrain requested", applogger.String("reason", req.Reason))
	return xhttp.AcceptedResponse(c, map[string]string{"reason": req.Reason})
}
