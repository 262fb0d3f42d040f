package repository

import (
	"context"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	pkgkafka "Calibra/pkg/kafka"
)

// KafkaTopics names the topics engine events are mirrored to.
type KafkaTopics struct {
	Outcomes  string
	Lifecycle string
	Decisions string
}

// KafkaPublisher mirrors outcomes, lifecycle transitions and evaluation
// decisions to Kafka, keyed so that per-pattern ordering holds.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topics   KafkaTopics
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topics KafkaTopics) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topics: topics}
}

func (p *KafkaPublisher) PublishOutcome(ctx context.Context, o *models.Outcome) error {
	return p.producer.Publish(ctx, p.topics.Outcomes, []byte(o.Pattern), o)
}

func (p *KafkaPublisher) PublishLifecycle(ctx context.Context, d *models.LifecycleDecision) error {
	return p.producer.Publish(ctx, p.topics.Lifecycle, []byte(d.Pattern), d)
}

func (p *KafkaPublisher) PublishDecision(ctx context.Context, d *models.EvaluationDecision) error {
	return p.producer.Publish(ctx, p.topics.Decisions, []byte(d.Symbol), d)
}

// PublishMessage lets the log collector ship aggregated errors over the
// same producer.
func (p *KafkaPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ domrepo.EventPublisher = (*KafkaPublisher)(nil)
