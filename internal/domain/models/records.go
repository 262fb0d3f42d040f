package models

import "time"

type LifecycleState string

const (
	StateActive      LifecycleState = "ACTIVE"
	StateTesting     LifecycleState = "TESTING"
	StatePromoted    LifecycleState = "PROMOTED"
	StateQuarantined LifecycleState = "QUARANTINED"
	StateKilled      LifecycleState = "KILLED"
)

type PairState string

const (
	PairNormal   PairState = "NORMAL"
	PairDisabled PairState = "DISABLED"
	PairBoosted  PairState = "BOOSTED"
)

// WinLoss counts decided outcomes.
type WinLoss struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// WinRate returns wins / (wins + losses), or 0 with no decided outcomes.
func (w WinLoss) WinRate() float64 {
	n := w.Wins + w.Losses
	if n == 0 {
		return 0
	}
	return float64(w.Wins) / float64(n)
}

// PatternRecord is the all-time aggregate for one pattern.
type PatternRecord struct {
	Pattern        string             `json:"pattern"`
	Total          int                `json:"total"`
	Wins           int                `json:"wins"`
	Losses         int                `json:"losses"`
	Timeouts       int                `json:"timeouts"`
	PipsWon        float64            `json:"pips_won"`
	PipsLost       float64            `json:"pips_lost"`
	Recent         []Result           `json:"recent"`
	ByRegime       map[string]WinLoss `json:"by_regime"`
	WinRate        float64            `json:"win_rate"`
	Expectancy     float64            `json:"expectancy"`
	State          LifecycleState     `json:"state"`
	SizeMultiplier float64            `json:"size_multiplier"`
	LastUpdate     time.Time          `json:"last_update"`
}

// Clone returns a deep copy.
func (p PatternRecord) Clone() PatternRecord {
	out := p
	out.Recent = append([]Result(nil), p.Recent...)
	out.ByRegime = make(map[string]WinLoss, len(p.ByRegime))
	for k, v := range p.ByRegime {
		out.ByRegime[k] = v
	}
	return out
}

// PairRecord tracks recent performance of one symbol across patterns.
type PairRecord struct {
	Symbol     string    `json:"symbol"`
	WinRate    float64   `json:"win_rate"`
	Samples    int       `json:"samples"`
	Trades     int       `json:"trades"`
	Streak     int       `json:"streak"`
	LastUpdate time.Time `json:"last_update"`
}

type SessionRecord struct {
	Session Session `json:"session"`
	Volume  int     `json:"volume"`
	WinRate float64 `json:"win_rate"`
	Samples int     `json:"samples"`
}

// PatternPairRecord tracks one pattern on one symbol.
type PatternPairRecord struct {
	Pattern string `json:"pattern"`
	Symbol  string `json:"symbol"`
	Trades  int    `json:"trades"`
	Wins    int    `json:"wins"`
	Losses  int    `json:"losses"`
}

func (p PatternPairRecord) WinRate() float64 {
	return WinLoss{Wins: p.Wins, Losses: p.Losses}.WinRate()
}

type ComboKey struct {
	Symbol    string  `json:"symbol"`
	Pattern   string  `json:"pattern"`
	Session   Session `json:"session"`
	Timeframe string  `json:"timeframe"`
}

type ComboRecord struct {
	Key    ComboKey `json:"key"`
	Trades int      `json:"trades"`
	Wins   int      `json:"wins"`
	Losses int      `json:"losses"`
}

func (c ComboRecord) WinRate() float64 {
	return WinLoss{Wins: c.Wins, Losses: c.Losses}.WinRate()
}
