package lifecycle

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"Calibra/internal/domain/models"
	"Calibra/internal/services/performance"
)

// Manager owns the lifecycle state of every pattern and every
// (pattern, symbol) pair. Transitions are evaluated after each outcome and
// returned as decisions for the caller to persist.
type Manager struct {
	mu sync.RWMutex

	cfg      Config
	patterns map[string]*models.PatternLifecycle
	pairs    map[string]models.PairState
	pairBase map[string]models.Baseline
}

func NewManager(cfg Config) *Manager {
	if cfg.Sessions == nil {
		cfg.Sessions = map[models.Session]SessionRule{}
	}
	return &Manager{
		cfg:      cfg,
		patterns: make(map[string]*models.PatternLifecycle),
		pairs:    make(map[string]models.PairState),
		pairBase: make(map[string]models.Baseline),
	}
}

func pairKey(pattern, symbol string) string { return pattern + "|" + symbol }

func newLifecycle() *models.PatternLifecycle {
	return &models.PatternLifecycle{State: models.StateActive, Multiplier: 1}
}

// window is a set of totals relative to some baseline.
type window struct {
	total, wins, losses int
	pipsWon, pipsLost   float64
}

func since(rec models.PatternRecord, b models.Baseline) window {
	return window{
		total:    rec.Total - b.Total,
		wins:     rec.Wins - b.Wins,
		losses:   rec.Losses - b.Losses,
		pipsWon:  rec.PipsWon - b.PipsWon,
		pipsLost: rec.PipsLost - b.PipsLost,
	}
}

func (w window) winRate() float64 { return performance.WinRate(w.wins, w.losses) }

func (w window) expectancy() float64 {
	return performance.Expectancy(w.wins, w.losses, w.pipsWon, w.pipsLost)
}

func baselineOf(rec models.PatternRecord) models.Baseline {
	return models.Baseline{Total: rec.Total, Wins: rec.Wins, Losses: rec.Losses, PipsWon: rec.PipsWon, PipsLost: rec.PipsLost}
}

// activeSince is where the quarantine rule starts counting. Snapshots
// written before Activated existed fall back to the reset baseline.
func activeSince(st *models.PatternLifecycle) models.Baseline {
	if st.Activated.Total < st.Baseline.Total {
		return st.Baseline
	}
	return st.Activated
}

// Evaluate applies the transition rules to one pattern and its pair record.
// The pattern record must be the aggregator's state right after the outcome.
func (m *Manager) Evaluate(rec models.PatternRecord, pp models.PatternPairRecord, now time.Time) []models.LifecycleDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.LifecycleDecision
	if d, ok := m.evaluatePatternLocked(rec, now); ok {
		out = append(out, d)
	}
	if pp.Pattern != "" {
		if d, ok := m.evaluatePairLocked(pp, now); ok {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) evaluatePatternLocked(rec models.PatternRecord, now time.Time) (models.LifecycleDecision, bool) {
	st := m.patterns[rec.Pattern]
	if st == nil {
		st = newLifecycle()
		m.patterns[rec.Pattern] = st
	}

	all := since(rec, st.Baseline)
	cur := since(rec, st.Entered)
	act := since(rec, activeSince(st))
	e := all.expectancy()
	wr := all.winRate()

	var (
		next       models.LifecycleState
		multiplier float64
		reason     string
	)

	switch st.State {
	case models.StateActive, models.StatePromoted:
		switch {
		case act.total >= m.cfg.QuarantineMinTrades && act.expectancy() < m.cfg.QuarantineExpectancy:
			next, multiplier = models.StateQuarantined, 1
			reason = fmt.Sprintf("expectancy %.3f < %.2f after %d trades", act.expectancy(), m.cfg.QuarantineExpectancy, act.total)
		case st.State == models.StateActive && all.total >= m.cfg.PromoteMinTrades && wr > m.cfg.PromoteWinRate:
			next = models.StatePromoted
			multiplier = math.Min(m.cfg.MaxMultiplier, st.Multiplier*m.cfg.PromoteMultiplier)
			reason = fmt.Sprintf("win rate %.2f > %.2f after %d trades", wr, m.cfg.PromoteWinRate, all.total)
		}
	case models.StateQuarantined:
		ce := cur.expectancy()
		switch {
		case all.total >= m.cfg.KillMinTrades && e < m.cfg.KillExpectancy:
			next, multiplier = models.StateKilled, 0
			reason = fmt.Sprintf("expectancy %.3f < %.2f after %d trades", e, m.cfg.KillExpectancy, all.total)
		case cur.total >= m.cfg.RecoveryMinTrades && ce > m.cfg.RecoveryExpectancy:
			next, multiplier = models.StateTesting, m.cfg.TestingMultiplier
			reason = fmt.Sprintf("expectancy %.3f > %.2f over %d trades in quarantine", ce, m.cfg.RecoveryExpectancy, cur.total)
		}
	case models.StateTesting:
		if cur.total >= m.cfg.TestingTrades {
			ce := cur.expectancy()
			if ce >= 0 {
				next, multiplier = models.StateActive, 1
				reason = fmt.Sprintf("expectancy %.3f over %d testing trades", ce, cur.total)
			} else if ce < m.cfg.QuarantineExpectancy {
				next, multiplier = models.StateQuarantined, 1
				reason = fmt.Sprintf("expectancy %.3f < %.2f over %d testing trades", ce, m.cfg.QuarantineExpectancy, cur.total)
			}
		}
	case models.StateKilled:
		// Absorbing until Reset.
	}

	if next == "" || next == st.State {
		return models.LifecycleDecision{}, false
	}

	d := models.LifecycleDecision{
		Pattern:    rec.Pattern,
		From:       string(st.State),
		To:         string(next),
		Reason:     reason,
		Total:      all.total,
		Wins:       all.wins,
		Losses:     all.losses,
		WinRate:    wr,
		Expectancy: e,
		Multiplier: multiplier,
		Timestamp:  now,
	}
	st.State = next
	st.Multiplier = multiplier
	st.Entered = baselineOf(rec)
	st.EnteredAt = now
	if next == models.StateActive {
		st.Activated = st.Entered
	}
	return d, true
}

func (m *Manager) evaluatePairLocked(pp models.PatternPairRecord, now time.Time) (models.LifecycleDecision, bool) {
	key := pairKey(pp.Pattern, pp.Symbol)
	b := m.pairBase[key]
	trades, wins, losses := pp.Trades-b.Total, pp.Wins-b.Wins, pp.Losses-b.Losses
	if trades < m.cfg.PairMinTrades {
		return models.LifecycleDecision{}, false
	}
	wr := performance.WinRate(wins, losses)
	next := models.PairNormal
	var reason string
	switch {
	case wr < m.cfg.PairDisableWinRate:
		next = models.PairDisabled
		reason = fmt.Sprintf("win rate %.2f < %.2f on %s after %d trades", wr, m.cfg.PairDisableWinRate, pp.Symbol, trades)
	case wr > m.cfg.PairBoostWinRate:
		next = models.PairBoosted
		reason = fmt.Sprintf("win rate %.2f > %.2f on %s after %d trades", wr, m.cfg.PairBoostWinRate, pp.Symbol, trades)
	default:
		reason = fmt.Sprintf("win rate %.2f back in range on %s", wr, pp.Symbol)
	}

	prev, ok := m.pairs[key]
	if !ok {
		prev = models.PairNormal
	}
	if prev == next {
		return models.LifecycleDecision{}, false
	}
	m.pairs[key] = next

	mult := 1.0
	switch next {
	case models.PairBoosted:
		mult = m.cfg.PairBoostMultiplier
	case models.PairDisabled:
		mult = 0
	}
	return models.LifecycleDecision{
		Pattern:    pp.Pattern,
		Symbol:     pp.Symbol,
		From:       string(prev),
		To:         string(next),
		Reason:     reason,
		Total:      trades,
		Wins:       wins,
		Losses:     losses,
		WinRate:    wr,
		Multiplier: mult,
		Timestamp:  now,
	}, true
}

// Reset returns a pattern to ACTIVE and starts counting from the pattern's
// current totals, so thresholds apply only to outcomes after the reset. The
// pattern's pair states go back to NORMAL and count from pairs.
func (m *Manager) Reset(rec models.PatternRecord, pairs []models.PatternPairRecord, operator string, now time.Time) models.LifecycleDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.patterns[rec.Pattern]
	if st == nil {
		st = newLifecycle()
		m.patterns[rec.Pattern] = st
	}
	from := st.State

	base := baselineOf(rec)
	st.State = models.StateActive
	st.Multiplier = 1
	st.Baseline = base
	st.Entered = base
	st.EnteredAt = now
	st.Activated = base

	prefix := pairKey(rec.Pattern, "")
	for key := range m.pairs {
		if strings.HasPrefix(key, prefix) {
			delete(m.pairs, key)
		}
	}
	for _, pp := range pairs {
		if pp.Pattern != rec.Pattern {
			continue
		}
		m.pairBase[pairKey(pp.Pattern, pp.Symbol)] = models.Baseline{Total: pp.Trades, Wins: pp.Wins, Losses: pp.Losses}
	}

	return models.LifecycleDecision{
		Pattern:    rec.Pattern,
		From:       string(from),
		To:         string(models.StateActive),
		Reason:     "manual reset by " + operator,
		Total:      rec.Total,
		Wins:       rec.Wins,
		Losses:     rec.Losses,
		WinRate:    rec.WinRate,
		Expectancy: rec.Expectancy,
		Multiplier: 1,
		Operator:   operator,
		Timestamp:  now,
	}
}

// Eligibility is the lifecycle verdict for one candidate.
type Eligibility struct {
	Allowed    bool
	Shadow     bool
	Reason     string
	Code       string // short label for metrics
	State      models.LifecycleState
	PairState  models.PairState
	Multiplier float64
}

// Eligible combines pattern state, session matrix and pair state. A
// quarantined pattern or a disabled pair is refused for execution but shadow
// tracked, so its record keeps moving and it can recover.
func (m *Manager) Eligible(pattern, symbol string, session models.Session) Eligibility {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := m.patterns[pattern]
	if st == nil {
		st = newLifecycle()
	}
	ps, ok := m.pairs[pairKey(pattern, symbol)]
	if !ok {
		ps = models.PairNormal
	}
	el := Eligibility{State: st.State, PairState: ps, Multiplier: st.Multiplier}

	if st.State == models.StateKilled {
		el.Reason, el.Code = "pattern killed", "killed"
		el.Multiplier = 0
		return el
	}
	if rule, ok := m.cfg.Sessions[session]; ok && !rule.permits(pattern) {
		el.Reason, el.Code = fmt.Sprintf("pattern not allowed in %s session", session), "session"
		return el
	}
	if ps == models.PairDisabled {
		el.Reason, el.Code = fmt.Sprintf("pattern disabled on %s", symbol), "pair_disabled"
		el.Shadow = true
		return el
	}
	if st.State == models.StateQuarantined {
		el.Reason, el.Code = "pattern quarantined", "quarantined"
		el.Shadow = true
		return el
	}

	el.Allowed, el.Code = true, "accepted"
	if ps == models.PairBoosted {
		el.Multiplier = math.Min(m.cfg.MaxMultiplier, el.Multiplier*m.cfg.PairBoostMultiplier)
	}
	return el
}

// State returns the lifecycle of pattern; unseen patterns are ACTIVE.
func (m *Manager) State(pattern string) models.PatternLifecycle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.patterns[pattern]; ok {
		return *st
	}
	return *newLifecycle()
}

// Annotate fills the lifecycle fields of a pattern record.
func (m *Manager) Annotate(rec *models.PatternRecord) {
	st := m.State(rec.Pattern)
	rec.State = st.State
	rec.SizeMultiplier = st.Multiplier
}

func (m *Manager) PairState(pattern, symbol string) models.PairState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ps, ok := m.pairs[pairKey(pattern, symbol)]; ok {
		return ps
	}
	return models.PairNormal
}

// Patterns lists known patterns in name order.
func (m *Manager) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.patterns))
	for p := range m.patterns {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Snapshot copies the manager state for persistence.
func (m *Manager) Snapshot(entryCount int, now time.Time) *models.LifecycleSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &models.LifecycleSnapshot{
		EntryCount: entryCount,
		Patterns:   make(map[string]models.PatternLifecycle, len(m.patterns)),
		Pairs:      make(map[string]models.PairState, len(m.pairs)),
		SavedAt:    now,
	}
	if len(m.pairBase) > 0 {
		s.PairBaselines = make(map[string]models.Baseline, len(m.pairBase))
		for k, v := range m.pairBase {
			s.PairBaselines[k] = v
		}
	}
	for k, v := range m.patterns {
		s.Patterns[k] = *v
	}
	for k, v := range m.pairs {
		s.Pairs[k] = v
	}
	return s
}

// Restore replaces the manager state with a snapshot.
func (m *Manager) Restore(s *models.LifecycleSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.patterns = make(map[string]*models.PatternLifecycle)
	m.pairs = make(map[string]models.PairState)
	m.pairBase = make(map[string]models.Baseline)
	if s == nil {
		return
	}
	for k, v := range s.PairBaselines {
		m.pairBase[k] = v
	}
	for k, v := range s.Patterns {
		v := v
		m.patterns[k] = &v
	}
	for k, v := range s.Pairs {
		m.pairs[k] = v
	}
}
