package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	pkgkafka "Calibra/pkg/kafka"
	applogger "Calibra/pkg/logger"
)

// KafkaCandidatesHandler evaluates candidate signals arriving on Kafka.
// Decisions are published by the evaluator; malformed candidates get a
// rejection published here so the emitter always hears back.
type KafkaCandidatesHandler struct {
	topic     string
	evaluator *SignalEvaluator
	publisher domrepo.EventPublisher
	logger    *applogger.Logger
}

func NewKafkaCandidatesHandler(topic string, evaluator *SignalEvaluator, publisher domrepo.EventPublisher, l *applogger.Logger) *KafkaCandidatesHandler {
	if l == nil {
		l = applogger.NewNop()
	}
	return &KafkaCandidatesHandler{topic: topic, evaluator: evaluator, publisher: publisher, logger: l}
}

func (h *KafkaCandidatesHandler) Topic() string { return h.topic }

func (h *KafkaCandidatesHandler) Handle(ctx context.Context, b []byte) error {
	var c models.CandidateSignal
	if err := json.Unmarshal(b, &c); err != nil {
		h.logger.Warn("dropping undecodable candidate", applogger.Error(err))
		return nil
	}

	_, err := h.evaluator.Evaluate(ctx, c)
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrInvalidSignal) || errors.Is(err, models.ErrNoReference) {
		h.logger.Warn("rejecting malformed candidate", applogger.String("symbol", c.Symbol), applogger.Error(err))
		if h.publisher != nil {
			reject := &models.EvaluationDecision{
				Symbol:    c.Symbol,
				Pattern:   c.Pattern,
				Direction: c.Direction,
				Reason:    err.Error(),
			}
			return h.publisher.PublishDecision(ctx, reject)
		}
		return nil
	}
	return err
}

var _ pkgkafka.MessageHandler = (*KafkaCandidatesHandler)(nil)
