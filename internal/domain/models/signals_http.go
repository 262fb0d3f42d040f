package models

import (
	"encoding/json"
	"strings"
	"time"
)

// CandidateSignal is a proposed signal submitted by the external emitter.
// Entry may be zero, in which case the last observed mid price is used.
type CandidateSignal struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol" validate:"required,max=32"`
	Direction     Direction `json:"direction" validate:"required,oneof=BUY SELL"`
	Pattern       string    `json:"pattern" validate:"required,max=64"`
	Session       Session   `json:"session" validate:"omitempty,oneof=ASIAN LONDON NY OVERLAP OTHER"`
	Timeframe     string    `json:"timeframe" default:"15m" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	RawConfidence float64   `json:"raw_confidence" validate:"gte=0,lte=100"`
	Entry         float64   `json:"entry" validate:"gte=0"`
	Stop          float64   `json:"stop" validate:"gt=0"`
	Target        float64   `json:"target" validate:"gt=0"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Breakdown lists every term the calibrator applied, in order.
type Breakdown struct {
	Raw         float64 `json:"raw"`
	Pattern     float64 `json:"pattern"`
	Pair        float64 `json:"pair"`
	Session     float64 `json:"session"`
	Streak      float64 `json:"streak"`
	Combo       float64 `json:"combo"`
	Convergence float64 `json:"convergence"`
	Unclamped   float64 `json:"unclamped"`
	Final       float64 `json:"final"`
}

// EvaluationDecision answers a candidate: accept with a confidence, or
// reject with a reason.
type EvaluationDecision struct {
	Accepted             bool           `json:"accepted"`
	Reason               string         `json:"reason,omitempty"`
	SignalID             string         `json:"signal_id,omitempty"`
	Symbol               string         `json:"symbol"`
	Pattern              string         `json:"pattern"`
	Direction            Direction      `json:"direction"`
	CalibratedConfidence float64        `json:"calibrated_confidence"`
	LifecycleState       LifecycleState `json:"lifecycle_state"`
	PairState            PairState      `json:"pair_state"`
	ConvergenceBoost     float64        `json:"convergence_boost"`
	ConvergenceCount     int            `json:"convergence_count"`
	SizeMultiplier       float64        `json:"size_multiplier"`
	Session              Session        `json:"session"`
	Regime               string         `json:"regime"`
	Shadow               bool           `json:"shadow,omitempty"`
	Breakdown            *Breakdown     `json:"breakdown,omitempty"`
	DecidedAt            time.Time      `json:"decided_at"`
}

// TickRequest is the HTTP body of POST /api/ticks. T accepts an RFC3339
// string or unix seconds/milliseconds, quoted or not.
type TickRequest struct {
	Symbol string          `json:"symbol" validate:"required"`
	Bid    float64         `json:"bid" validate:"gt=0"`
	Ask    float64         `json:"ask" validate:"gt=0,gtefield=Bid"`
	T      json.RawMessage `json:"t"`
}

// Timestamp returns the raw t field with JSON quotes stripped.
func (r TickRequest) Timestamp() string {
	return strings.Trim(strings.TrimSpace(string(r.T)), `"`)
}

type PatternRequest struct {
	Pattern string `param:"pattern" validate:"required,pattern_name"`
}

type ResetRequest struct {
	Pattern  string `param:"pattern" validate:"required,pattern_name"`
	Operator string `json:"operator" default:"operator" validate:"max=64"`
}

type OpenSignalsRequest struct {
	Symbol string `query:"symbol"`
	Limit  int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type RetrainTriggerRequest struct {
	Reason string `json:"reason" default:"manual trigger" validate:"max=256"`
}
