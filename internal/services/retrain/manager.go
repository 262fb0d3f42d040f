package retrain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	domsvc "Calibra/internal/domain/service"
	pkgcache "Calibra/pkg/cache"
	applogger "Calibra/pkg/logger"
)

var ErrAlreadyRunning = errors.New("retrain already running")

type Config struct {
	EntryThreshold  int
	MaxInterval     time.Duration
	FailureCooldown time.Duration
	Timeout         time.Duration
	ModelPath       string
}

func DefaultConfig() Config {
	return Config{
		EntryThreshold:  100,
		MaxInterval:     24 * time.Hour,
		FailureCooldown: 30 * time.Minute,
		Timeout:         10 * time.Minute,
		ModelPath:       "model.bin",
	}
}

// Manager decides when the external model is retrained and keeps the
// retrain status file. At most one run is in flight; with a shared lock
// configured that holds across instances too.
type Manager struct {
	cfg     Config
	logPath string
	trainer domsvc.Trainer
	store   domrepo.StatusStore
	metrics domrepo.Metrics
	logger  *applogger.Logger
	lock    pkgcache.Service
	now     func() time.Time

	mu      sync.Mutex
	status  models.RetrainStatus
	seenFP  string
	count   int
	running bool

	requests chan string
}

type Option func(*Manager)

func WithLogger(l *applogger.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithMetrics(mt domrepo.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithLock guards runs with a TryLock on the shared cache.
func WithLock(c pkgcache.Service) Option { return func(m *Manager) { m.lock = c } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(cfg Config, logPath string, trainer domsvc.Trainer, store domrepo.StatusStore, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		logPath:  logPath,
		trainer:  trainer,
		store:    store,
		logger:   applogger.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		requests: make(chan string, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads the persisted status. A missing file starts from zero.
func (m *Manager) Load(ctx context.Context) error {
	st, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load retrain status: %w", err)
	}
	m.mu.Lock()
	m.status = *st
	m.status.Running = false
	m.mu.Unlock()
	return nil
}

// Status returns a copy of the current status.
func (m *Manager) Status() models.RetrainStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	st.Running = m.running
	return st
}

// entries refreshes the log entry count when the fingerprint moved.
func (m *Manager) entries() (int, string, error) {
	fp, err := Fingerprint(m.logPath)
	if err != nil {
		return 0, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fp == m.seenFP && m.seenFP != "" {
		return m.count, fp, nil
	}
	n, err := CountEntries(m.logPath)
	if err != nil {
		return 0, "", err
	}
	m.seenFP, m.count = fp, n
	return n, fp, nil
}

// Due reports whether a retrain should start now and why.
func (m *Manager) Due(now time.Time) (reason string, count int, err error) {
	count, _, err = m.entries()
	if err != nil {
		return "", 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status

	if m.running {
		return "", count, nil
	}
	if st.LastFailure != "" && st.LastAttempt.After(st.LastRetrain) && now.Sub(st.LastAttempt) < m.cfg.FailureCooldown {
		return "", count, nil
	}

	fresh := count - st.EntryCountAtLastRetrain
	if fresh < 0 {
		// Log was truncated or replaced; everything in it is new.
		fresh = count
	}
	switch {
	case fresh >= m.cfg.EntryThreshold:
		return fmt.Sprintf("%d new entries (≥%d)", fresh, m.cfg.EntryThreshold), count, nil
	case m.cfg.MaxInterval > 0 && !st.LastRetrain.IsZero() && fresh > 0 && now.Sub(st.LastRetrain) >= m.cfg.MaxInterval:
		return fmt.Sprintf("%dh since last retrain (≥%dh)", int(now.Sub(st.LastRetrain).Hours()), int(m.cfg.MaxInterval.Hours())), count, nil
	}
	return "", count, nil
}

// Check runs the trainer when a trigger condition holds. It reports whether
// a run happened.
func (m *Manager) Check(ctx context.Context) (bool, error) {
	reason, _, err := m.Due(m.now())
	if err != nil {
		return false, err
	}
	if reason == "" {
		return false, nil
	}
	if err := m.Run(ctx, reason); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		return true, err
	}
	return true, nil
}

// Run trains unconditionally. Failures are recorded in the status and
// returned.
func (m *Manager) Run(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if m.lock != nil {
		ok, err := m.lock.TryLock(ctx, "retrain:lock", m.cfg.Timeout+time.Minute)
		if err != nil {
			m.logger.Warn("retrain lock unavailable, running unguarded", applogger.Error(err))
		} else if !ok {
			return ErrAlreadyRunning
		} else {
			defer func() {
				if err := m.lock.Unlock(context.Background(), "retrain:lock"); err != nil {
					m.logger.Warn("retrain unlock failed", applogger.Error(err))
				}
			}()
		}
	}

	count, fp, err := m.entries()
	if err != nil {
		return fmt.Errorf("count outcome log: %w", err)
	}

	m.logger.Info("retrain starting", applogger.String("reason", reason), applogger.Int("entries", count))
	started := m.now()
	res, trainErr := m.trainer.Train(ctx, domsvc.TrainRequest{
		DataPath:   m.logPath,
		ModelPath:  m.cfg.ModelPath,
		EntryCount: count,
	})

	status := "success"
	m.mu.Lock()
	st := m.status
	st.LastAttempt = started
	st.LastReason = reason
	st.LastDuration = res.Duration
	if trainErr != nil {
		st.LastFailure = trainErr.Error()
	} else {
		acc, strat, ok := ExtractAccuracy(res.Output)
		st.LastFailure = ""
		if ok {
			m.logger.Info("trainer accuracy parsed", applogger.String("strategy", strat), applogger.Float64("accuracy", acc))
		} else {
			st.LastFailure = "trainer output had no accuracy metric"
			status = "no_metric"
		}
		st.Accuracy = acc
		st.EntryCountAtLastRetrain = count
		st.TotalRetrains++
		st.LastRetrain = m.now()
		st.Fingerprint = fp
	}
	m.status = st
	m.mu.Unlock()

	if trainErr != nil {
		status = "failure"
		if errors.Is(trainErr, ErrTrainerTimeout) {
			status = "timeout"
		}
	}
	if m.metrics != nil {
		m.metrics.RecordRetrain(status, res.Duration)
	}

	if err := m.store.Save(ctx, &st); err != nil {
		m.logger.Error("retrain status save failed", applogger.Error(err))
	}

	if trainErr != nil {
		m.logger.Error("retrain failed",
			applogger.String("reason", reason),
			applogger.Duration("duration_ms", res.Duration),
			applogger.Error(trainErr))
		return trainErr
	}
	if status == "no_metric" {
		m.logger.Warn("retrain finished without an accuracy metric",
			applogger.String("reason", reason),
			applogger.Int("entries", count))
	}
	m.logger.Info("retrain complete",
		applogger.String("reason", reason),
		applogger.Float64("accuracy", st.Accuracy),
		applogger.Int("entries", count),
		applogger.Int("total_retrains", st.TotalRetrains),
		applogger.Duration("duration_ms", res.Duration))
	return nil
}

// Trigger asks the checker loop for a run. It does not block; a request
// already pending or a run in flight yields ErrAlreadyRunning.
func (m *Manager) Trigger(reason string) error {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		return ErrAlreadyRunning
	}
	select {
	case m.requests <- reason:
		return nil
	default:
		return ErrAlreadyRunning
	}
}

// RunChecker checks on every interval and serves manual triggers until ctx
// is done.
func (m *Manager) RunChecker(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-m.requests:
			if err := m.Run(ctx, reason); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				m.logger.Warn("manual retrain failed", applogger.Error(err))
			}
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				m.logger.Warn("retrain check failed", applogger.Error(err))
			}
		}
	}
}
