package repository

import (
	"context"
	"time"

	"Calibra/internal/domain/models"
)

// OutcomeLog is the append-only ground truth of resolved signals.
type OutcomeLog interface {
	Append(ctx context.Context, o *models.Outcome) error
	ReadAll(ctx context.Context) ([]models.Outcome, error)
	Path() string
}

// DecisionLog records lifecycle transitions, append-only.
type DecisionLog interface {
	Append(ctx context.Context, d *models.LifecycleDecision) error
	ReadAll(ctx context.Context) ([]models.LifecycleDecision, error)
}

// StateStore persists the lifecycle snapshot. Load returns (nil, nil) when
// nothing has been saved yet.
type StateStore interface {
	Load(ctx context.Context) (*models.LifecycleSnapshot, error)
	Save(ctx context.Context, s *models.LifecycleSnapshot) error
}

// StatusStore persists the retrain status. Load returns a zero status when
// nothing has been saved yet.
type StatusStore interface {
	Load(ctx context.Context) (*models.RetrainStatus, error)
	Save(ctx context.Context, s *models.RetrainStatus) error
}

// EventPublisher mirrors engine events to a message bus.
type EventPublisher interface {
	PublishOutcome(ctx context.Context, o *models.Outcome) error
	PublishLifecycle(ctx context.Context, d *models.LifecycleDecision) error
	PublishDecision(ctx context.Context, d *models.EvaluationDecision) error
	Close() error
}

// OutcomeArchive is an analytical copy of the outcome log.
type OutcomeArchive interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, o *models.Outcome) error
	ComboStats(ctx context.Context) ([]models.ComboRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// SnapshotMirror publishes read-only aggregate snapshots for other services.
type SnapshotMirror interface {
	Publish(ctx context.Context, key string, v interface{}) error
}

type Metrics interface {
	RecordEvaluation(accepted bool, reason string)
	RecordOutcome(result, pattern string)
	SetOpenSignals(n int)
	ObserveConfidence(v float64)
	RecordTransition(from, to string)
	RecordRetrain(status string, d time.Duration)
	RecordDroppedTick(reason string)
	RecordLatency(op string, seconds float64)
}
