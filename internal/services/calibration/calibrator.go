package calibration

import (
	"math"

	"Calibra/internal/domain/models"
)

// Config holds every calibration magnitude. None of them are hard-wired.
type Config struct {
	Min                float64
	Max                float64
	PatternMinTrades   int
	PatternWeight      float64
	PairMinSamples     int
	PairWeight         float64
	SessionMinVolume   int
	SessionAdjustments map[models.Session]float64
	StreakMin          int
	StreakStep         float64
	StreakCap          float64
	ComboMinSamples    int
	ComboWinRate       float64
	ComboBonus         float64
}

func DefaultConfig() Config {
	return Config{
		Min:              85,
		Max:              95,
		PatternMinTrades: 10,
		PatternWeight:    20,
		PairMinSamples:   5,
		PairWeight:       10,
		SessionMinVolume: 20,
		SessionAdjustments: map[models.Session]float64{
			models.SessionOverlap: 2,
			models.SessionLondon:  1,
			models.SessionNY:      0,
			models.SessionAsian:   -2,
			models.SessionOther:   -3,
		},
		StreakMin:       3,
		StreakStep:      1,
		StreakCap:       5,
		ComboMinSamples: 5,
		ComboWinRate:    0.70,
		ComboBonus:      3,
	}
}

// Stats is the read side of the performance aggregator.
type Stats interface {
	Pattern(pattern string) (models.PatternRecord, bool)
	Pair(symbol string) (models.PairRecord, bool)
	Session(s models.Session) (models.SessionRecord, bool)
	Combo(key models.ComboKey) (models.ComboRecord, bool)
}

type Input struct {
	Symbol           string
	Pattern          string
	Session          models.Session
	Timeframe        string
	RawConfidence    float64
	ConvergenceBoost float64
}

type Calibrator struct {
	cfg   Config
	stats Stats
}

func NewCalibrator(cfg Config, stats Stats) *Calibrator {
	if cfg.Max < cfg.Min {
		cfg.Min, cfg.Max = cfg.Max, cfg.Min
	}
	return &Calibrator{cfg: cfg, stats: stats}
}

// Calibrate applies, in order: pattern, pair, session, streak, combo and
// convergence adjustments, then clamps to [Min, Max]. The result depends
// only on the input and the current statistics.
func (c *Calibrator) Calibrate(in Input) models.Breakdown {
	b := models.Breakdown{Raw: in.RawConfidence}

	if p, ok := c.stats.Pattern(in.Pattern); ok && p.Total >= c.cfg.PatternMinTrades {
		b.Pattern = (p.WinRate - 0.5) * c.cfg.PatternWeight
	}

	pair, hasPair := c.stats.Pair(in.Symbol)
	if hasPair && pair.Samples >= c.cfg.PairMinSamples {
		b.Pair = (pair.WinRate - 0.5) * c.cfg.PairWeight
	}

	if s, ok := c.stats.Session(in.Session); ok && s.Volume >= c.cfg.SessionMinVolume {
		b.Session = c.cfg.SessionAdjustments[in.Session]
	}

	if hasPair {
		b.Streak = c.streakAdjustment(pair.Streak)
	}

	key := models.ComboKey{Symbol: in.Symbol, Pattern: in.Pattern, Session: in.Session, Timeframe: in.Timeframe}
	if combo, ok := c.stats.Combo(key); ok && combo.Trades >= c.cfg.ComboMinSamples && combo.WinRate() > c.cfg.ComboWinRate {
		b.Combo = c.cfg.ComboBonus
	}

	b.Convergence = in.ConvergenceBoost

	b.Unclamped = b.Raw + b.Pattern + b.Pair + b.Session + b.Streak + b.Combo + b.Convergence
	b.Final = c.clamp(b.Unclamped)
	return b
}

// streakAdjustment is ±step for each win/loss at or beyond the minimum run
// length, capped at ±cap.
func (c *Calibrator) streakAdjustment(streak int) float64 {
	n := streak
	if n < 0 {
		n = -n
	}
	if n < c.cfg.StreakMin {
		return 0
	}
	adj := math.Min(c.cfg.StreakCap, float64(n-c.cfg.StreakMin+1)*c.cfg.StreakStep)
	if streak < 0 {
		return -adj
	}
	return adj
}

func (c *Calibrator) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return c.cfg.Min
	}
	return math.Max(c.cfg.Min, math.Min(c.cfg.Max, v))
}
