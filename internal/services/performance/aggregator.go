package performance

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"Calibra/internal/domain/models"
)

type Config struct {
	PatternWindow int
	PairWindow    int
	PairMaxAge    time.Duration
	SessionWindow int
}

func DefaultConfig() Config {
	return Config{PatternWindow: 20, PairWindow: 50, PairMaxAge: 72 * time.Hour, SessionWindow: 100}
}

type pairState struct {
	rec    models.PairRecord
	window *rollingWindow
}

type sessionState struct {
	rec    models.SessionRecord
	window *rollingWindow
}

// Aggregator keeps per-pattern, per-pair, per-session and per-combo
// statistics. All mutation goes through one lock; readers get copies.
type Aggregator struct {
	mu sync.RWMutex

	cfg          Config
	patterns     map[string]*models.PatternRecord
	pairs        map[string]*pairState
	sessions     map[models.Session]*sessionState
	patternPairs map[string]*models.PatternPairRecord
	combos       map[models.ComboKey]models.ComboRecord
	entries      int
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.PatternWindow <= 0 {
		cfg.PatternWindow = 20
	}
	if cfg.PairWindow <= 0 {
		cfg.PairWindow = 50
	}
	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = 100
	}
	a := &Aggregator{cfg: cfg}
	a.resetLocked()
	return a
}

func (a *Aggregator) resetLocked() {
	a.patterns = make(map[string]*models.PatternRecord)
	a.pairs = make(map[string]*pairState)
	a.sessions = make(map[models.Session]*sessionState)
	a.patternPairs = make(map[string]*models.PatternPairRecord)
	a.combos = make(map[models.ComboKey]models.ComboRecord)
	a.entries = 0
}

func pairKey(pattern, symbol string) string { return pattern + "|" + symbol }

// RecordOutcome folds one outcome into every aggregate and returns a copy of
// the updated pattern record.
func (a *Aggregator) RecordOutcome(o models.Outcome) (models.PatternRecord, error) {
	if err := models.ValidateOutcome(&o); err != nil {
		return models.PatternRecord{}, fmt.Errorf("record outcome: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec := a.applyLocked(o)
	return rec.Clone(), nil
}

func (a *Aggregator) applyLocked(o models.Outcome) *models.PatternRecord {
	a.entries++

	p := a.patterns[o.Pattern]
	if p == nil {
		p = &models.PatternRecord{Pattern: o.Pattern, ByRegime: make(map[string]models.WinLoss)}
		a.patterns[o.Pattern] = p
	}
	p.Total++
	regime := o.Regime
	if regime == "" {
		regime = "UNKNOWN"
	}
	wl := p.ByRegime[regime]
	switch o.Result {
	case models.ResultWin:
		p.Wins++
		p.PipsWon += abs(o.Pips)
		wl.Wins++
	case models.ResultLoss:
		p.Losses++
		p.PipsLost += abs(o.Pips)
		wl.Losses++
	case models.ResultTimeout:
		p.Timeouts++
	}
	p.ByRegime[regime] = wl
	p.Recent = append(p.Recent, o.Result)
	if len(p.Recent) > a.cfg.PatternWindow {
		p.Recent = append(p.Recent[:0:0], p.Recent[len(p.Recent)-a.cfg.PatternWindow:]...)
	}
	p.WinRate = WinRate(p.Wins, p.Losses)
	p.Expectancy = Expectancy(p.Wins, p.Losses, p.PipsWon, p.PipsLost)
	p.LastUpdate = o.ResolvedAt

	a.applyPairLocked(o)
	a.applySessionLocked(o)

	pp := a.patternPairs[pairKey(o.Pattern, o.Symbol)]
	if pp == nil {
		pp = &models.PatternPairRecord{Pattern: o.Pattern, Symbol: o.Symbol}
		a.patternPairs[pairKey(o.Pattern, o.Symbol)] = pp
	}
	pp.Trades++
	switch o.Result {
	case models.ResultWin:
		pp.Wins++
	case models.ResultLoss:
		pp.Losses++
	}
	return p
}

func (a *Aggregator) applyPairLocked(o models.Outcome) {
	ps := a.pairs[o.Symbol]
	if ps == nil {
		ps = &pairState{
			rec:    models.PairRecord{Symbol: o.Symbol},
			window: newRollingWindow(a.cfg.PairWindow, a.cfg.PairMaxAge),
		}
		a.pairs[o.Symbol] = ps
	}
	ps.window.add(o.Result, o.ResolvedAt)
	stats := ps.window.stats()

	ps.rec.Trades++
	ps.rec.Samples = stats.Wins + stats.Losses
	ps.rec.WinRate = stats.WinRate()
	ps.rec.Streak = nextStreak(ps.rec.Streak, o.Result)
	ps.rec.LastUpdate = o.ResolvedAt
}

func (a *Aggregator) applySessionLocked(o models.Outcome) {
	ss := a.sessions[o.Session]
	if ss == nil {
		ss = &sessionState{
			rec:    models.SessionRecord{Session: o.Session},
			window: newRollingWindow(a.cfg.SessionWindow, 0),
		}
		a.sessions[o.Session] = ss
	}
	ss.window.add(o.Result, o.ResolvedAt)
	stats := ss.window.stats()

	ss.rec.Volume++
	ss.rec.Samples = stats.Wins + stats.Losses
	ss.rec.WinRate = stats.WinRate()
}

// nextStreak extends a run of the same sign or restarts it. Timeouts leave
// the streak untouched.
func nextStreak(streak int, r models.Result) int {
	switch r {
	case models.ResultWin:
		if streak > 0 {
			return streak + 1
		}
		return 1
	case models.ResultLoss:
		if streak < 0 {
			return streak - 1
		}
		return -1
	}
	return streak
}

// Rebuild discards all state and replays outcomes in order. Invalid entries
// are skipped and counted.
func (a *Aggregator) Rebuild(outcomes []models.Outcome) (skipped int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resetLocked()
	for i := range outcomes {
		if err := models.ValidateOutcome(&outcomes[i]); err != nil {
			skipped++
			continue
		}
		a.applyLocked(outcomes[i])
	}
	for _, c := range BuildCombos(outcomes) {
		a.combos[c.Key] = c
	}
	return skipped
}

// SetCombos replaces the combo index.
func (a *Aggregator) SetCombos(combos []models.ComboRecord) {
	idx := make(map[models.ComboKey]models.ComboRecord, len(combos))
	for _, c := range combos {
		idx[c.Key] = c
	}
	a.mu.Lock()
	a.combos = idx
	a.mu.Unlock()
}

func (a *Aggregator) Combo(key models.ComboKey) (models.ComboRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.combos[key]
	return c, ok
}

func (a *Aggregator) Pattern(pattern string) (models.PatternRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.patterns[pattern]
	if !ok {
		return models.PatternRecord{}, false
	}
	return p.Clone(), true
}

func (a *Aggregator) Pair(symbol string) (models.PairRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ps, ok := a.pairs[symbol]
	if !ok {
		return models.PairRecord{}, false
	}
	return ps.rec, true
}

func (a *Aggregator) Session(s models.Session) (models.SessionRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ss, ok := a.sessions[s]
	if !ok {
		return models.SessionRecord{}, false
	}
	return ss.rec, true
}

func (a *Aggregator) PatternPair(pattern, symbol string) (models.PatternPairRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pp, ok := a.patternPairs[pairKey(pattern, symbol)]
	if !ok {
		return models.PatternPairRecord{}, false
	}
	return *pp, true
}

// PatternPairs returns the per-symbol records of pattern ordered by symbol.
func (a *Aggregator) PatternPairs(pattern string) []models.PatternPairRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []models.PatternPairRecord
	for _, pp := range a.patternPairs {
		if pp.Pattern == pattern {
			out = append(out, *pp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// EntryCount is the number of outcomes folded in since the last rebuild.
func (a *Aggregator) EntryCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.entries
}

// Snapshot is a consistent, sorted copy of every aggregate.
type Snapshot struct {
	Entries      int                        `json:"entries"`
	Patterns     []models.PatternRecord     `json:"patterns"`
	Pairs        []models.PairRecord        `json:"pairs"`
	Sessions     []models.SessionRecord     `json:"sessions"`
	PatternPairs []models.PatternPairRecord `json:"pattern_pairs"`
	Combos       []models.ComboRecord       `json:"combos"`
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Snapshot{Entries: a.entries}
	for _, p := range a.patterns {
		s.Patterns = append(s.Patterns, p.Clone())
	}
	sort.Slice(s.Patterns, func(i, j int) bool { return s.Patterns[i].Pattern < s.Patterns[j].Pattern })

	for _, ps := range a.pairs {
		s.Pairs = append(s.Pairs, ps.rec)
	}
	sort.Slice(s.Pairs, func(i, j int) bool { return s.Pairs[i].Symbol < s.Pairs[j].Symbol })

	for _, ss := range a.sessions {
		s.Sessions = append(s.Sessions, ss.rec)
	}
	sort.Slice(s.Sessions, func(i, j int) bool { return s.Sessions[i].Session < s.Sessions[j].Session })

	for _, pp := range a.patternPairs {
		s.PatternPairs = append(s.PatternPairs, *pp)
	}
	sort.Slice(s.PatternPairs, func(i, j int) bool {
		return pairKey(s.PatternPairs[i].Pattern, s.PatternPairs[i].Symbol) < pairKey(s.PatternPairs[j].Pattern, s.PatternPairs[j].Symbol)
	})

	s.Combos = sortedCombos(a.combos)
	return s
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
