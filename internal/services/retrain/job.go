package retrain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"Calibra/pkg/queue"
)

const JobType = "retrain.trigger"

// TriggerPayload is the queued manual retrain request.
type TriggerPayload struct {
	Reason   string `json:"reason"`
	Operator string `json:"operator"`
}

// Job runs queued manual retrain requests on a queue worker.
type Job struct {
	manager *Manager
}

func NewJob(m *Manager) *Job { return &Job{manager: m} }

func (j *Job) Name() string { return "retrain" }
func (j *Job) Type() string { return JobType }

func (j *Job) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.ParsePayload[TriggerPayload](payload)
	if err != nil {
		return err
	}
	reason := p.Reason
	if reason == "" {
		reason = "manual"
	}
	if p.Operator != "" {
		reason = fmt.Sprintf("%s by %s", reason, p.Operator)
	}
	err = j.manager.Run(ctx, reason)
	if errors.Is(err, ErrAlreadyRunning) || errors.Is(err, ErrTrainerTimeout) || errors.Is(err, ErrTrainerFailed) {
		// Recorded in the status; retrying a failed fit immediately helps nobody.
		return nil
	}
	return err
}

var _ queue.Job = (*Job)(nil)
