package models

import "time"

// LifecycleDecision is one line of the decision log.
type LifecycleDecision struct {
	Pattern    string    `json:"pattern"`
	Symbol     string    `json:"symbol,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason"`
	Total      int       `json:"total"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	WinRate    float64   `json:"win_rate"`
	Expectancy float64   `json:"expectancy"`
	Multiplier float64   `json:"multiplier"`
	Operator   string    `json:"operator,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RetrainStatus is persisted after every retrain attempt.
type RetrainStatus struct {
	Fingerprint             string        `json:"fingerprint"`
	LastRetrain             time.Time     `json:"last_retrain"`
	EntryCountAtLastRetrain int           `json:"entry_count_at_last_retrain"`
	Accuracy                float64       `json:"accuracy"`
	TotalRetrains           int           `json:"total_retrains"`
	LastFailure             string        `json:"last_failure,omitempty"`
	LastAttempt             time.Time     `json:"last_attempt"`
	LastReason              string        `json:"last_reason,omitempty"`
	LastDuration            time.Duration `json:"last_duration"`
	Running                 bool          `json:"running"`
}

// Baseline holds pattern totals captured at an operator reset. Lifecycle
// thresholds are evaluated on the delta since the baseline.
type Baseline struct {
	Total    int     `json:"total"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	PipsWon  float64 `json:"pips_won"`
	PipsLost float64 `json:"pips_lost"`
}

// PatternLifecycle is the persisted lifecycle state of one pattern.
type PatternLifecycle struct {
	State      LifecycleState `json:"state"`
	Multiplier float64        `json:"multiplier"`
	Baseline   Baseline       `json:"baseline"`
	// Totals when the current state was entered; recovery and testing
	// rules look only at outcomes since then.
	Entered   Baseline  `json:"entered"`
	EnteredAt time.Time `json:"entered_at"`
	// Totals when the pattern last became ACTIVE through a reset or a
	// passed test. The quarantine rule counts from here.
	Activated Baseline `json:"activated"`
}

// LifecycleSnapshot is the persisted lifecycle manager state. EntryCount is
// the number of outcome-log entries already reflected in it.
type LifecycleSnapshot struct {
	EntryCount int                         `json:"entry_count"`
	Patterns   map[string]PatternLifecycle `json:"patterns"`
	Pairs      map[string]PairState        `json:"pairs"`
	// Pair totals at the last reset of their pattern; Total holds trades.
	PairBaselines map[string]Baseline `json:"pair_baselines,omitempty"`
	SavedAt       time.Time           `json:"saved_at"`
}
