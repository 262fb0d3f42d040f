package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWith(reg)

	r.RecordEvaluation(true, "ok")
	r.RecordEvaluation(false, "killed")
	r.RecordEvaluation(false, "killed")
	r.RecordOutcome("WIN", "BREAKOUT")
	r.SetOpenSignals(3)
	r.RecordTransition("ACTIVE", "QUARANTINED")
	r.RecordRetrain("success", 2*time.Second)
	r.RecordDroppedTick("stale")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.evaluations.WithLabelValues("false", "killed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcomes.WithLabelValues("WIN", "BREAKOUT")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.openSignals))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("ACTIVE", "QUARANTINED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retrains.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.droppedTick.WithLabelValues("stale")))
}
