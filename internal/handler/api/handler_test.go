package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	"Calibra/internal/repository"
	"Calibra/internal/services/calibration"
	"Calibra/internal/services/convergence"
	"Calibra/internal/services/lifecycle"
	"Calibra/internal/services/performance"
	"Calibra/internal/services/regime"
	"Calibra/internal/services/retrain"
	"Calibra/internal/usecase"
	pkgcache "Calibra/pkg/cache"
)

type fakeRetrain struct {
	mu      sync.Mutex
	status  models.RetrainStatus
	reasons []string
	err     error
}

func (f *fakeRetrain) Status() models.RetrainStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeRetrain) Trigger(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeQueue struct {
	types []string
}

func (q *fakeQueue) Enqueue(_ context.Context, msgType string, _ interface{}) (string, error) {
	q.types = append(q.types, msgType)
	return fmt.Sprintf("job-%d", len(q.types)), nil
}

type fixture struct {
	e        *echo.Echo
	monitor  *usecase.OutcomeMonitor
	recorder *usecase.OutcomeRecorder
	retrain  *fakeRetrain
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	agg := performance.NewAggregator(performance.DefaultConfig())
	lc := lifecycle.NewManager(lifecycle.DefaultConfig())
	rec := usecase.NewOutcomeRecorder(
		repository.NewFileOutcomeLog(filepath.Join(dir, "outcomes.jsonl"), false, nil),
		repository.NewFileDecisionLog(filepath.Join(dir, "decisions.jsonl"), false, nil),
		repository.NewFileStateStore(filepath.Join(dir, "state.json")),
		agg, lc, nil,
	)
	mon := usecase.NewOutcomeMonitor(rec, nil)
	book := usecase.NewCandleBook(domrepo.TF1m, 100)
	eval := usecase.NewSignalEvaluator(
		mon,
		regime.NewClassifier(regime.DefaultConfig(), book),
		convergence.NewDetector(convergence.DefaultConfig()),
		calibration.NewCalibrator(calibration.DefaultConfig(), agg),
		lc, nil, 4*time.Hour,
	)
	f := &fixture{e: echo.New(), monitor: mon, recorder: rec, retrain: &fakeRetrain{}}
	opts = append([]Option{
		WithRetrain(f.retrain, nil),
		WithSnapshotCache(pkgcache.NewMemoryCache(pkgcache.WithMemoryCleanup(0)), time.Minute),
	}, opts...)
	NewHandler(eval, rec, mon, usecase.NewTickRouter(book, mon), opts...).RegisterRoutes(f.e)
	return f
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec.Code, env
}

var base = time.Date(2024, 5, 6, 13, 0, 0, 0, time.UTC)

func tickBody(bid, ask float64, at time.Time) string {
	return fmt.Sprintf(`{"symbol":"EUR/USD","bid":%.5f,"ask":%.5f,"t":%d}`, bid, ask, at.UnixMilli())
}

const candidateBody = `{"symbol":"eurusd","direction":"BUY","pattern":"breakout","raw_confidence":88,"stop":1.0980,"target":1.1030,"generated_at":"2024-05-06T13:00:00Z"}`

func TestEvaluateTrackAndResolve(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/ticks", tickBody(1.0999, 1.1001, base))
	require.Equal(t, http.StatusOK, code)

	code, env := f.do(t, http.MethodPost, "/api/signals/evaluate", candidateBody)
	require.Equal(t, http.StatusOK, code)
	var d models.EvaluationDecision
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.True(t, d.Accepted)
	assert.Equal(t, "EURUSD", d.Symbol)
	assert.GreaterOrEqual(t, d.CalibratedConfidence, 85.0)
	assert.LessOrEqual(t, d.CalibratedConfidence, 95.0)

	code, env = f.do(t, http.MethodGet, "/api/signals/open?symbol=eurusd", "")
	require.Equal(t, http.StatusOK, code)
	var open struct {
		Rows  []models.TrackedSignal `json:"rows"`
		Total int                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &open))
	assert.Equal(t, 1, open.Total)
	assert.Equal(t, d.SignalID, open.Rows[0].ID)

	code, _ = f.do(t, http.MethodPost, "/api/ticks", tickBody(1.1031, 1.1033, base.Add(time.Minute)))
	require.Equal(t, http.StatusOK, code)
	assert.Zero(t, f.monitor.Count())

	code, env = f.do(t, http.MethodGet, "/api/patterns/breakout", "")
	require.Equal(t, http.StatusOK, code)
	var pv PatternView
	require.NoError(t, json.Unmarshal(env.Data, &pv))
	assert.Equal(t, 1, pv.Total)
	assert.Equal(t, 1, pv.Wins)
	assert.Equal(t, models.StateActive, pv.Lifecycle.State)

	code, env = f.do(t, http.MethodGet, "/api/patterns", "")
	require.Equal(t, http.StatusOK, code)
	var all []PatternView
	require.NoError(t, json.Unmarshal(env.Data, &all))
	require.Len(t, all, 1)

	code, env = f.do(t, http.MethodGet, "/api/pairs", "")
	require.Equal(t, http.StatusOK, code)
	var pairs pairsView
	require.NoError(t, json.Unmarshal(env.Data, &pairs))
	require.Len(t, pairs.PatternPairs, 1)
	assert.Equal(t, models.PairNormal, pairs.PatternPairs[0].State)

	code, _ = f.do(t, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestEvaluateRejectsWithoutReferencePrice(t *testing.T) {
	f := newFixture(t)

	code, env := f.do(t, http.MethodPost, "/api/signals/evaluate", candidateBody)
	require.Equal(t, http.StatusBadRequest, code)
	var d models.EvaluationDecision
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "no reference price")
}

func TestEvaluateRejectsBadGeometry(t *testing.T) {
	f := newFixture(t)
	body := `{"symbol":"EURUSD","direction":"SELL","pattern":"X","raw_confidence":80,"entry":1.1,"stop":1.09,"target":1.08}`

	code, env := f.do(t, http.MethodPost, "/api/signals/evaluate", body)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(env.Data), "SELL requires")
}

func TestTicksRejectsCrossedQuote(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodPost, "/api/ticks", `{"symbol":"EURUSD","bid":1.2,"ask":1.1}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPatternNotFound(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/api/patterns/NOPE", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodPost, "/api/patterns/NOPE/reset", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestResetPattern(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.recorder.Record(context.Background(), models.Outcome{
		SignalID: "s1", Pattern: "BREAKOUT", Symbol: "EURUSD", Direction: models.Buy,
		Result: models.ResultLoss, Pips: -20, RMultiple: -1, ResolvedAt: base,
	}))

	code, env := f.do(t, http.MethodPost, "/api/patterns/breakout/reset", `{"operator":"desk"}`)
	require.Equal(t, http.StatusOK, code)
	var d models.LifecycleDecision
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, "BREAKOUT", d.Pattern)
	assert.Equal(t, string(models.StateActive), d.To)
	assert.Equal(t, "desk", d.Operator)
}

func TestRetrainEndpoints(t *testing.T) {
	f := newFixture(t)
	f.retrain.status = models.RetrainStatus{TotalRetrains: 2, Accuracy: 0.81}

	code, env := f.do(t, http.MethodGet, "/api/retrain/status", "")
	require.Equal(t, http.StatusOK, code)
	var st models.RetrainStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 2, st.TotalRetrains)

	code, _ = f.do(t, http.MethodPost, "/api/retrain/trigger", `{"reason":"new features"}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{"new features"}, f.retrain.reasons)

	f.retrain.err = retrain.ErrAlreadyRunning
	code, _ = f.do(t, http.MethodPost, "/api/retrain/trigger", "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestRetrainTriggerUsesQueue(t *testing.T) {
	q := &fakeQueue{}
	direct := &fakeRetrain{}
	f := newFixture(t, WithRetrain(direct, q))

	code, env := f.do(t, http.MethodPost, "/api/retrain/trigger", "")
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{retrain.JobType}, q.types)
	assert.Contains(t, string(env.Data), "job-1")
	assert.Empty(t, direct.reasons)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, WithHealthChecks(HealthCheck{Name: "clickhouse", Check: func(context.Context) error { return nil }}))
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	f = newFixture(t, WithHealthChecks(HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("down") }}))
	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
}
