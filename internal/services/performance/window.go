package performance

import (
	"time"

	"Calibra/internal/domain/models"
)

type windowEntry struct {
	result models.Result
	at     time.Time
}

// rollingWindow keeps the most recent outcomes bounded by count and by age.
// Age is measured against the newest entry, not the wall clock, so replaying
// the same log always yields the same window.
type rollingWindow struct {
	maxN    int
	maxAge  time.Duration
	entries []windowEntry
}

func newRollingWindow(maxN int, maxAge time.Duration) *rollingWindow {
	return &rollingWindow{maxN: maxN, maxAge: maxAge}
}

func (w *rollingWindow) add(r models.Result, at time.Time) {
	w.entries = append(w.entries, windowEntry{result: r, at: at})
	if w.maxN > 0 && len(w.entries) > w.maxN {
		w.entries = append(w.entries[:0:0], w.entries[len(w.entries)-w.maxN:]...)
	}
	if w.maxAge > 0 {
		cutoff := at.Add(-w.maxAge)
		drop := 0
		for drop < len(w.entries) && w.entries[drop].at.Before(cutoff) {
			drop++
		}
		if drop > 0 {
			w.entries = append(w.entries[:0:0], w.entries[drop:]...)
		}
	}
}

func (w *rollingWindow) stats() models.WinLoss {
	var wl models.WinLoss
	for _, e := range w.entries {
		switch e.result {
		case models.ResultWin:
			wl.Wins++
		case models.ResultLoss:
			wl.Losses++
		}
	}
	return wl
}
