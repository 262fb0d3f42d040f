package service

import (
	"context"
	"time"
)

// TrainRequest describes one retraining run.
type TrainRequest struct {
	DataPath   string
	ModelPath  string
	EntryCount int
}

// TrainResult carries the raw trainer output; accuracy is extracted by the
// caller.
type TrainResult struct {
	Output   string
	Duration time.Duration
}

// Trainer runs the external model-fitting process. Implementations must
// honor ctx cancellation.
type Trainer interface {
	Train(ctx context.Context, req TrainRequest) (TrainResult, error)
}
