package models

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"Calibra/pkg/util"
)

var (
	ErrInvalidTick    = errors.New("invalid tick")
	ErrInvalidSignal  = errors.New("invalid signal")
	ErrUnknownPattern = errors.New("unknown pattern")
	ErrNoReference    = errors.New("no reference price")
)

var validate = validator.New()

// NormalizeCandidate applies defaults, canonicalizes labels and validates
// the candidate's structure. Geometry is checked separately once the entry
// price is known.
func NormalizeCandidate(c *CandidateSignal) error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("%w: defaults: %v", ErrInvalidSignal, err)
	}
	c.Symbol = util.NormalizeSymbol(c.Symbol)
	c.Pattern = strings.ToUpper(strings.TrimSpace(c.Pattern))
	c.Direction = Direction(strings.ToUpper(string(c.Direction)))
	c.Session = Session(strings.ToUpper(string(c.Session)))

	if math.IsNaN(c.RawConfidence) || math.IsInf(c.RawConfidence, 0) {
		return fmt.Errorf("%w: raw_confidence is not finite", ErrInvalidSignal)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	return nil
}

// CheckGeometry verifies stop and target sit on the correct sides of entry.
func CheckGeometry(dir Direction, entry, stop, target float64) error {
	for _, v := range []float64{entry, stop, target} {
		if !finite(v) || v <= 0 {
			return fmt.Errorf("%w: prices must be positive and finite", ErrInvalidSignal)
		}
	}
	switch dir {
	case Buy:
		if !(stop < entry && entry < target) {
			return fmt.Errorf("%w: BUY requires stop < entry < target", ErrInvalidSignal)
		}
	case Sell:
		if !(target < entry && entry < stop) {
			return fmt.Errorf("%w: SELL requires target < entry < stop", ErrInvalidSignal)
		}
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidSignal, dir)
	}
	return nil
}

// ValidateTracked checks a signal before it enters the monitor.
func ValidateTracked(s *TrackedSignal) error {
	if s.ID == "" || s.Symbol == "" || s.Pattern == "" {
		return fmt.Errorf("%w: id, symbol and pattern are required", ErrInvalidSignal)
	}
	if s.GeneratedAt.IsZero() {
		return fmt.Errorf("%w: generated_at is required", ErrInvalidSignal)
	}
	return CheckGeometry(s.Direction, s.Entry, s.Stop, s.Target)
}

// ValidateOutcome checks an outcome read from the log or a transport.
func ValidateOutcome(o *Outcome) error {
	if o.Pattern == "" || o.Symbol == "" {
		return errors.New("outcome: pattern and symbol are required")
	}
	switch o.Result {
	case ResultWin, ResultLoss, ResultTimeout:
	default:
		return fmt.Errorf("outcome: unknown result %q", o.Result)
	}
	if !finite(o.Pips) || !finite(o.RMultiple) {
		return errors.New("outcome: pips and r_multiple must be finite")
	}
	return nil
}
