package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
	err     error
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return p.err
}

func (p *capturePublisher) all() [][]AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batches
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		m := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(ln), &m))
		out = append(out, m)
	}
	return out
}

func TestNamedAndWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := newWriter(&buf).Named("lifecycle").With(String("pattern", "BULL_FLAG"))

	l.Info("transition", String("to", "QUARANTINED"), Duration("took", 1500*time.Millisecond), Error(nil))

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "lifecycle", got[0]["component"])
	assert.Equal(t, "BULL_FLAG", got[0]["pattern"])
	assert.Equal(t, "QUARANTINED", got[0]["to"])
	assert.Equal(t, float64(1500), got[0]["took"])
	assert.NotContains(t, got[0], "error")
}

func TestCollectorSeesChildrenDerivedEarlier(t *testing.T) {
	root := NewNop()
	child := root.Named("recorder")

	pub := &capturePublisher{}
	root.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "calibra.logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		child.Error("persist failed", String("path", "outcomes.jsonl"), Error(errors.New("disk full")))
	}
	child.Warn("below collect level")
	root.RemoveCollector()

	batches := pub.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	e := batches[0][0]
	assert.Equal(t, "calibra.logs", pub.topic)
	assert.Equal(t, "error", e.Level)
	assert.Equal(t, 3, e.Count)
	assert.Equal(t, "disk full", e.Fields["error"])
	assert.Contains(t, e.Caller, "logger/logger_test.go:")

	child.Error("after removal")
	assert.Len(t, pub.all(), 1)
}

func TestCollectorFlushOrdersAndReportsErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "t", Publisher: pub})
	defer c.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { now = now.Add(time.Second); return now }
	c.AddLog("error", "b", nil, "x.go:1")
	c.AddLog("error", "a", nil, "x.go:2")

	err := c.Flush(context.Background())
	assert.ErrorContains(t, err, "publish 2 entries to t")
	require.Len(t, pub.all(), 1)
	assert.Equal(t, "b", pub.all()[0][0].Message)

	assert.NoError(t, c.Flush(context.Background()), "window is cleared even on failure")
}

func TestCollectorThresholdTriggersFlush(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("error", "one", nil, "")
	c.AddLog("error", "two", nil, "")

	assert.Eventually(t, func() bool { return len(pub.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestNewRejectsBadLevels(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
	_, err = New(&Config{Level: "info", CollectLevel: "loud"})
	assert.Error(t, err)

	l, err := New(&Config{Level: "warn", Output: "stderr", CollectLevel: "warn"})
	require.NoError(t, err)
	assert.NotNil(t, l.Named("x"))
}
