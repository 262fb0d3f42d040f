package regime

import (
	"time"

	"Calibra/internal/domain/models"
)

// UTC session hours. London runs 07-16 and New York 12-21; the hours they
// share are reported as OVERLAP.
const (
	asianStart   = 0
	londonStart  = 7
	overlapStart = 12
	nyStart      = 16
	nyEnd        = 21
)

// SessionFor labels t by its UTC hour.
func SessionFor(t time.Time) models.Session {
	h := t.UTC().Hour()
	switch {
	case h >= asianStart && h < londonStart:
		return models.SessionAsian
	case h < overlapStart:
		return models.SessionLondon
	case h < nyStart:
		return models.SessionOverlap
	case h < nyEnd:
		return models.SessionNY
	default:
		return models.SessionOther
	}
}
