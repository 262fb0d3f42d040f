package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	type trigger struct {
		Reason   string `json:"reason"`
		Operator string `json:"operator"`
	}

	got, err := ParsePayload[trigger](json.RawMessage(`{"reason":"manual","operator":"ops"}`))
	require.NoError(t, err)
	assert.Equal(t, trigger{Reason: "manual", Operator: "ops"}, *got)

	empty, err := ParsePayload[trigger](nil)
	require.NoError(t, err)
	assert.Equal(t, trigger{}, *empty)

	_, err = ParsePayload[trigger](json.RawMessage(`{`))
	assert.Error(t, err)
}

func TestKeysUsePrefix(t *testing.T) {
	q := NewRedisQueue(nil, Config{}, nil, WithKeyPrefix("calibra:retrain"))
	assert.Equal(t, "calibra:retrain:messages", q.queueKey())
	assert.Equal(t, "calibra:retrain:processing", q.processingKey())
	assert.Equal(t, "calibra:retrain:retry", q.retryKey())
	assert.Equal(t, "calibra:retrain:dlq", q.deadLetterKey())
	assert.Equal(t, 1, q.config.Workers)
}

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	q := NewRedisQueue(nil, Config{RetryDelay: time.Second}, nil)
	assert.Equal(t, time.Second, q.retryDelay(0))
	assert.Equal(t, time.Second, q.retryDelay(1))
	assert.Equal(t, 4*time.Second, q.retryDelay(3))
	assert.Equal(t, 32*time.Second, q.retryDelay(6))
	assert.Equal(t, 32*time.Second, q.retryDelay(40))
}

type stubJob struct {
	err   error
	calls int
}

func (j *stubJob) Name() string { return "stub" }
func (j *stubJob) Type() string { return "stub.run" }
func (j *stubJob) Handle(context.Context, json.RawMessage) error {
	j.calls++
	return j.err
}

func TestProcessSettlesSuccessfulJob(t *testing.T) {
	q := NewRedisQueue(nil, Config{}, nil)
	job := &stubJob{}
	q.RegisterJob(job)
	q.RegisterJob(&stubJob{err: errors.New("second registration ignored")})

	assert.True(t, q.process(context.Background(), Message{ID: "1", Type: "stub.run"}))
	assert.Equal(t, 1, job.calls)
}

func TestProcessLeavesCancelledJobUnacked(t *testing.T) {
	q := NewRedisQueue(nil, Config{}, nil)
	q.RegisterJob(&stubJob{err: context.Canceled})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, q.process(ctx, Message{ID: "1", Type: "stub.run"}))
}
