package lifecycle

import "Calibra/internal/domain/models"

type Config struct {
	QuarantineMinTrades  int
	QuarantineExpectancy float64
	KillMinTrades        int
	KillExpectancy       float64
	PromoteMinTrades     int
	PromoteWinRate       float64
	PromoteMultiplier    float64
	MaxMultiplier        float64
	RecoveryExpectancy   float64
	RecoveryMinTrades    int
	TestingTrades        int
	TestingMultiplier    float64
	PairMinTrades        int
	PairDisableWinRate   float64
	PairBoostWinRate     float64
	PairBoostMultiplier  float64
	Sessions             map[models.Session]SessionRule
}

// SessionRule restricts patterns per session. Deny wins over Allow; an empty
// Allow list allows everything not denied.
type SessionRule struct {
	Allow []string
	Deny  []string
}

func (r SessionRule) permits(pattern string) bool {
	for _, p := range r.Deny {
		if p == pattern {
			return false
		}
	}
	if len(r.Allow) == 0 {
		return true
	}
	for _, p := range r.Allow {
		if p == pattern {
			return true
		}
	}
	return false
}

func DefaultConfig() Config {
	return Config{
		QuarantineMinTrades:  50,
		QuarantineExpectancy: -0.05,
		KillMinTrades:        100,
		KillExpectancy:       -0.10,
		PromoteMinTrades:     50,
		PromoteWinRate:       0.70,
		PromoteMultiplier:    1.25,
		MaxMultiplier:        2.0,
		RecoveryExpectancy:   0.10,
		RecoveryMinTrades:    20,
		TestingTrades:        20,
		TestingMultiplier:    0.5,
		PairMinTrades:        10,
		PairDisableWinRate:   0.30,
		PairBoostWinRate:     0.75,
		PairBoostMultiplier:  1.2,
		Sessions:             map[models.Session]SessionRule{},
	}
}
