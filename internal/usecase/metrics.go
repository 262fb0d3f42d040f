package usecase

import (
	"time"

	domrepo "Calibra/internal/domain/repository"
)

type nopMetrics struct{}

func (nopMetrics) RecordEvaluation(bool, string)       {}
func (nopMetrics) RecordOutcome(string, string)        {}
func (nopMetrics) SetOpenSignals(int)                  {}
func (nopMetrics) ObserveConfidence(float64)           {}
func (nopMetrics) RecordTransition(string, string)     {}
func (nopMetrics) RecordRetrain(string, time.Duration) {}
func (nopMetrics) RecordDroppedTick(string)            {}
func (nopMetrics) RecordLatency(string, float64)       {}

var _ domrepo.Metrics = nopMetrics{}
