package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"Calibra/pkg/logger"
)

// promoteDue moves retries whose time has come back onto the main list in one
// step, so two runners never both promote the same message.
var promoteDue = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, m in ipairs(due) do
	redis.call("ZREM", KEYS[1], m)
	redis.call("LPUSH", KEYS[2], m)
end
return #due
`)

var (
	jobsTotal *prometheus.CounterVec
	jobsOnce  sync.Once
)

func initQueueMetrics() {
	jobsOnce.Do(func() {
		jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "calibra_queue_jobs_total",
			Help: "Queue jobs by type and result (done, retry, dead, cancelled).",
		}, []string{"type", "result"})
	})
}

// RedisQueue is a reliable list queue. A worker moves each message onto a
// processing list while it runs, failed messages wait in a sorted set with
// exponential delay, and exhausted ones land on a dead letter list.
type RedisQueue struct {
	logger    *logger.Logger
	config    Config
	client    *redis.Client
	keyPrefix string
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]Job
}

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue keys. Default "calibra:queue".
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.keyPrefix = prefix }
}

func NewRedisQueue(lgr *logger.Logger, config Config, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.PollWait <= 0 {
		config.PollWait = time.Second
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	rq := &RedisQueue{
		logger:    lgr.Named("queue"),
		config:    config,
		client:    client,
		keyPrefix: "calibra:queue",
		now:       time.Now,
		jobs:      make(map[string]Job),
	}
	for _, opt := range opts {
		opt(rq)
	}
	initQueueMetrics()
	return rq
}

// RegisterJob routes messages of job.Type() to job. The first registration
// for a type wins.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.jobs[job.Type()]; ok {
		r.logger.Warn("job type already registered",
			logger.String("type", job.Type()),
			logger.String("kept", prev.Name()))
		return
	}
	r.jobs[job.Type()] = job
}

// Enqueue stores payload as JSON and returns the message id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, Timestamp: r.now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if err := r.client.LPush(ctx, r.queueKey(), data).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return msg.ID, nil
}

// Run requeues messages left on the processing list by a previous run, then
// serves until ctx is done. Only one runner per key prefix is supported.
func (r *RedisQueue) Run(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if n, err := r.recoverOrphans(ctx); err != nil {
		return fmt.Errorf("recover processing list: %w", err)
	} else if n > 0 {
		r.logger.Warn("requeued unfinished messages", logger.Int("count", n))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.config.Workers; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				r.processNext(gctx)
			}
			return nil
		})
	}
	g.Go(func() error {
		r.promoteLoop(gctx)
		return nil
	})

	r.logger.Info("queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("prefix", r.keyPrefix))
	err := g.Wait()
	r.logger.Info("queue stopped")
	return err
}

func (r *RedisQueue) recoverOrphans(ctx context.Context) (int, error) {
	n := 0
	for {
		err := r.client.LMove(ctx, r.processingKey(), r.queueKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (r *RedisQueue) processNext(ctx context.Context) {
	data, err := r.client.BLMove(ctx, r.queueKey(), r.processingKey(), "RIGHT", "LEFT", r.config.PollWait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return
		}
		r.logger.Error("blmove", logger.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		r.logger.Error("drop undecodable message", logger.Error(err))
		r.ack(data)
		return
	}
	if r.process(ctx, msg) {
		r.ack(data)
	}
}

// ack removes data from the processing list on its own context, so a
// shutdown between handling and ack does not leave a finished job behind.
func (r *RedisQueue) ack(data string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.LRem(ctx, r.processingKey(), 1, data).Err(); err != nil {
		r.logger.Error("ack", logger.Error(err))
	}
}

// process runs msg and reports whether it is settled. A cancelled job stays
// on the processing list for the next Run to pick up.
func (r *RedisQueue) process(ctx context.Context, msg Message) bool {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job for message type", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.deadLetter(ctx, msg)
		return true
	}

	start := r.now()
	err := job.Handle(ctx, msg.Payload)
	switch {
	case err == nil:
		jobsTotal.WithLabelValues(msg.Type, "done").Inc()
		r.logger.Info("job done",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed_ms", r.now().Sub(start)))
		return true
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		jobsTotal.WithLabelValues(msg.Type, "cancelled").Inc()
		r.logger.Warn("job interrupted by shutdown", logger.String("id", msg.ID), logger.String("job", job.Name()))
		return false
	}

	msg.Attempts++
	r.logger.Error("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.Error(err))
	if msg.Attempts <= r.config.RetryLimit {
		jobsTotal.WithLabelValues(msg.Type, "retry").Inc()
		r.scheduleRetry(ctx, msg)
		return true
	}
	r.deadLetter(ctx, msg)
	return true
}

// retryDelay doubles per attempt, capped at 32x the base delay.
func (r *RedisQueue) retryDelay(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 5 {
		shift = 5
	}
	return r.config.RetryDelay << shift
}

func (r *RedisQueue) scheduleRetry(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}
	at := r.now().Add(r.retryDelay(msg.Attempts))
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(at.Unix()), Member: data}).Err(); err != nil {
		r.logger.Error("schedule retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(ctx context.Context, msg Message) {
	jobsTotal.WithLabelValues(msg.Type, "dead").Inc()
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dead letter", logger.Error(err))
		return
	}
	if err := r.client.LPush(ctx, r.deadLetterKey(), data).Err(); err != nil {
		r.logger.Error("dead letter", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := strconv.FormatInt(r.now().Unix(), 10)
		n, err := promoteDue.Run(ctx, r.client, []string{r.retryKey(), r.queueKey()}, now, 100).Int()
		if err != nil && ctx.Err() == nil {
			r.logger.Error("promote retries", logger.Error(err))
			continue
		}
		if n > 0 {
			r.logger.Debug("retries promoted", logger.Int("count", n))
		}
	}
}

func (r *RedisQueue) queueKey() string      { return r.keyPrefix + ":messages" }
func (r *RedisQueue) processingKey() string { return r.keyPrefix + ":processing" }
func (r *RedisQueue) retryKey() string      { return r.keyPrefix + ":retry" }
func (r *RedisQueue) deadLetterKey() string { return r.keyPrefix + ":dlq" }
