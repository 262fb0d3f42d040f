package models

import (
	"math"
	"time"
)

type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (d Direction) Sign() float64 {
	if d == Sell {
		return -1
	}
	return 1
}

type Result string

const (
	ResultWin     Result = "WIN"
	ResultLoss    Result = "LOSS"
	ResultTimeout Result = "TIMEOUT"
)

type Session string

const (
	SessionAsian   Session = "ASIAN"
	SessionLondon  Session = "LONDON"
	SessionNY      Session = "NY"
	SessionOverlap Session = "OVERLAP"
	SessionOther   Session = "OTHER"
)

// Sessions lists every session label in display order.
var Sessions = []Session{SessionAsian, SessionLondon, SessionOverlap, SessionNY, SessionOther}

type Trend string

const (
	TrendTrend   Trend = "TREND"
	TrendRange   Trend = "RANGE"
	TrendUnknown Trend = "UNKNOWN"
)

type Volatility string

const (
	VolHigh    Volatility = "HIGH"
	VolLow     Volatility = "LOW"
	VolUnknown Volatility = "UNKNOWN"
)

// TrendVolatility is the classifier output for one symbol.
type TrendVolatility struct {
	Trend      Trend      `json:"trend"`
	Volatility Volatility `json:"volatility"`
	ADX        float64    `json:"adx"`
	ATR        float64    `json:"atr"`
	AvgATR     float64    `json:"avg_atr"`
}

// Label is the compact regime tag stored on signals and outcomes.
func (tv TrendVolatility) Label() string {
	if tv.Trend == TrendUnknown || tv.Volatility == VolUnknown {
		return "UNKNOWN"
	}
	return string(tv.Trend) + "_" + string(tv.Volatility)
}

// TrackedSignal is an accepted signal awaiting resolution by the outcome monitor.
type TrackedSignal struct {
	ID                   string        `json:"id"`
	Symbol               string        `json:"symbol"`
	Direction            Direction     `json:"direction"`
	Pattern              string        `json:"pattern"`
	Session              Session       `json:"session"`
	Regime               string        `json:"regime"`
	Timeframe            string        `json:"timeframe"`
	RawConfidence        float64       `json:"raw_confidence"`
	CalibratedConfidence float64       `json:"calibrated_confidence"`
	Entry                float64       `json:"entry"`
	Stop                 float64       `json:"stop"`
	Target               float64       `json:"target"`
	GeneratedAt          time.Time     `json:"generated_at"`
	Horizon              time.Duration `json:"horizon"`
	ConvergenceBoost     float64       `json:"convergence_boost"`
	ConvergenceCount     int           `json:"convergence_count"`
	SizeMultiplier       float64       `json:"size_multiplier"`
	// Shadow signals are tracked only so quarantined patterns keep producing
	// outcomes; they never reach execution.
	Shadow bool `json:"shadow,omitempty"`
}

// Expired reports whether the signal has outlived its horizon at now.
func (s *TrackedSignal) Expired(now time.Time) bool {
	return s.Horizon > 0 && !now.Before(s.GeneratedAt.Add(s.Horizon))
}

// Outcome is one resolved signal. It is the line schema of the outcome log.
type Outcome struct {
	SignalID             string        `json:"signal_id"`
	Pattern              string        `json:"pattern"`
	Symbol               string        `json:"symbol"`
	Direction            Direction     `json:"direction"`
	Session              Session       `json:"session"`
	Regime               string        `json:"regime"`
	Timeframe            string        `json:"timeframe"`
	Result               Result        `json:"result"`
	Pips                 float64       `json:"pips"`
	RMultiple            float64       `json:"r_multiple"`
	Duration             time.Duration `json:"duration"`
	OpenedAt             time.Time     `json:"opened_at"`
	ResolvedAt           time.Time     `json:"resolved_at"`
	RawConfidence        float64       `json:"raw_confidence"`
	CalibratedConfidence float64       `json:"calibrated_confidence"`
	Shadow               bool          `json:"shadow,omitempty"`
}

// Tick is a top-of-book quote.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"t"`
}

// Mid returns the midpoint of bid and ask.
func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// Valid reports whether the tick can be processed.
func (t Tick) Valid() bool {
	if t.Symbol == "" || t.Timestamp.IsZero() {
		return false
	}
	if !finite(t.Bid) || !finite(t.Ask) || t.Bid <= 0 || t.Ask <= 0 {
		return false
	}
	return t.Ask >= t.Bid
}

// Candle represents an OHLCV bucket used by the regime classifier.
type Candle struct {
	Bucket time.Time `json:"bucket"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
