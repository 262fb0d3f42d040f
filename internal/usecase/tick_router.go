package usecase

import (
	"context"
	"errors"

	"Calibra/internal/domain/models"
)

// TickProcessor is anything that consumes validated ticks.
type TickProcessor interface {
	Process(ctx context.Context, t *models.Tick) error
}

// TickRouter fans a tick out to every processor in order: candles first so
// the classifier sees the newest bar, then the outcome monitor.
type TickRouter struct {
	procs []TickProcessor
}

func NewTickRouter(procs ...TickProcessor) *TickRouter {
	return &TickRouter{procs: procs}
}

func (r *TickRouter) Process(ctx context.Context, t *models.Tick) error {
	var errs []error
	for _, p := range r.procs {
		if err := p.Process(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isInvalidTick(err error) bool { return errors.Is(err, models.ErrInvalidTick) }
