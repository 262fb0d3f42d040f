package convergence

import (
	"math"
	"time"

	"Calibra/internal/domain/models"
)

type Config struct {
	Window     time.Duration
	PerPattern float64 // boost percentage per converging pattern
	Cap        float64
}

func DefaultConfig() Config {
	return Config{Window: 5 * time.Minute, PerPattern: 10, Cap: 30}
}

// Detector finds independent patterns agreeing on a symbol at the same time.
// It holds no state.
type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Check counts distinct patterns, other than the candidate's own, with an
// open non-shadow signal on the candidate's symbol generated within the
// window of at. The boost is min(cap, count*perPattern).
func (d *Detector) Check(symbol, pattern string, at time.Time, open []models.TrackedSignal) (boost float64, count int) {
	seen := make(map[string]struct{})
	for i := range open {
		s := &open[i]
		if s.Shadow || s.Symbol != symbol || s.Pattern == pattern {
			continue
		}
		if absDuration(at.Sub(s.GeneratedAt)) > d.cfg.Window {
			continue
		}
		seen[s.Pattern] = struct{}{}
	}
	count = len(seen)
	return d.Boost(count), count
}

// Boost is monotonically non-decreasing in count and never exceeds the cap.
func (d *Detector) Boost(count int) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(d.cfg.Cap, float64(count)*d.cfg.PerPattern)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
