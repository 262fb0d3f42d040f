package usecase

import (
	"context"
	"errors"
	"sync"

	"Calibra/internal/domain/models"
)

type memOutcomeLog struct {
	mu       sync.Mutex
	entries  []models.Outcome
	failNext int
}

func (l *memOutcomeLog) Append(_ context.Context, o *models.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext > 0 {
		l.failNext--
		return errors.New("disk full")
	}
	l.entries = append(l.entries, *o)
	return nil
}

func (l *memOutcomeLog) ReadAll(context.Context) ([]models.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Outcome(nil), l.entries...), nil
}

func (l *memOutcomeLog) Path() string { return "mem" }

type memDecisionLog struct {
	mu      sync.Mutex
	entries []models.LifecycleDecision
}

func (l *memDecisionLog) Append(_ context.Context, d *models.LifecycleDecision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *d)
	return nil
}

func (l *memDecisionLog) ReadAll(context.Context) ([]models.LifecycleDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.LifecycleDecision(nil), l.entries...), nil
}

type memStateStore struct {
	snap *models.LifecycleSnapshot
}

func (s *memStateStore) Load(context.Context) (*models.LifecycleSnapshot, error) { return s.snap, nil }

func (s *memStateStore) Save(_ context.Context, snap *models.LifecycleSnapshot) error {
	s.snap = snap
	return nil
}

type captureSink struct {
	mu       sync.Mutex
	outcomes []models.Outcome
}

func (c *captureSink) OnOutcome(_ context.Context, o models.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

func (c *captureSink) all() []models.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Outcome(nil), c.outcomes...)
}

type capturePublisher struct {
	mu        sync.Mutex
	outcomes  []models.Outcome
	lifecycle []models.LifecycleDecision
	decisions []models.EvaluationDecision
}

func (p *capturePublisher) PublishOutcome(_ context.Context, o *models.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, *o)
	return nil
}

func (p *capturePublisher) PublishLifecycle(_ context.Context, d *models.LifecycleDecision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lifecycle = append(p.lifecycle, *d)
	return nil
}

func (p *capturePublisher) PublishDecision(_ context.Context, d *models.EvaluationDecision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, *d)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type staticRegime struct {
	tv models.TrendVolatility
}

func (s staticRegime) Classify(context.Context, string) (models.TrendVolatility, error) {
	return s.tv, nil
}
