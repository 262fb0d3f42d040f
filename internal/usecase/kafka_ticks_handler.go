package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	pkgkafka "Calibra/pkg/kafka"
	applogger "Calibra/pkg/logger"
	"Calibra/pkg/util"
)

// KafkaTicksHandler decodes quote messages and forwards them to the tick
// pipeline.
type KafkaTicksHandler struct {
	topic   string
	next    TickProcessor
	metrics domrepo.Metrics
	logger  *applogger.Logger
}

func NewKafkaTicksHandler(topic string, next TickProcessor, metrics domrepo.Metrics) *KafkaTicksHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &KafkaTicksHandler{topic: topic, next: next, metrics: metrics, logger: applogger.NewNop()}
}

func (h *KafkaTicksHandler) SetLogger(l *applogger.Logger) { h.logger = l }

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, bid, ask, t} with t in unix s or ms.
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		Bid    float64 `json:"bid"`
		Ask    float64 `json:"ask"`
		T      int64   `json:"t"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordDroppedTick("unmarshal")
		h.logger.Warn("dropping undecodable tick", applogger.Int("bytes", len(b)), applogger.Error(err))
		// Poison messages are dropped rather than retried forever.
		return nil
	}
	if m.T <= 0 {
		h.metrics.RecordDroppedTick("timestamp")
		h.logger.Warn("dropping tick without timestamp", applogger.String("symbol", m.Symbol))
		return nil
	}
	t := &models.Tick{
		Symbol:    util.NormalizeSymbol(m.Symbol),
		Bid:       m.Bid,
		Ask:       m.Ask,
		Timestamp: util.FromUnixAuto(m.T),
	}
	h.metrics.RecordLatency("tick_e2e", time.Since(t.Timestamp).Seconds())

	if err := h.next.Process(ctx, t); err != nil {
		if isInvalidTick(err) {
			h.logger.Debug("tick rejected downstream", applogger.String("symbol", t.Symbol), applogger.Error(err))
			return nil
		}
		return fmt.Errorf("process tick: %w", err)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
