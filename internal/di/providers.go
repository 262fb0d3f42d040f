package di

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Calibra/internal/domain/models"
	"Calibra/internal/domain/repository"
	domsvc "Calibra/internal/domain/service"
	"Calibra/internal/handler/api"
	mid "Calibra/internal/middleware"
	internalrepo "Calibra/internal/repository"
	"Calibra/internal/service/feed"
	"Calibra/internal/service/ratelimit"
	"Calibra/internal/services/calibration"
	"Calibra/internal/services/convergence"
	"Calibra/internal/services/lifecycle"
	"Calibra/internal/services/performance"
	"Calibra/internal/services/regime"
	"Calibra/internal/services/retrain"
	"Calibra/internal/usecase"
	pkgcache "Calibra/pkg/cache"
	pkgch "Calibra/pkg/clickhouse"
	"Calibra/pkg/config"
	xhttp "Calibra/pkg/http"
	pkgkafka "Calibra/pkg/kafka"
	applogger "Calibra/pkg/logger"
	"Calibra/pkg/metrics"
	"Calibra/pkg/queue"
	"Calibra/pkg/server"
)

// dataPath resolves name against the data directory unless it is absolute.
func dataPath(cfg *config.Config, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cfg.Storage.DataDir, name)
}

// ProvideLogger builds the root logger and makes sure the data directory
// exists before anything opens a file in it. Aggregated logs go to Kafka
// when a collector topic is set.
func ProvideLogger(cfg *config.Config, pub *internalrepo.KafkaPublisher) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:        cfg.Log.Level,
		Format:       cfg.Log.Format,
		Output:       cfg.Log.Output,
		CollectLevel: cfg.Log.CollectLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	if pub != nil && cfg.Log.CollectorTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Log.CollectorTopic,
			Publisher:      pub,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache connects to Redis when enabled; nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/4),
		pkgcache.WithRedisPrefix(cfg.Redis.KeyPrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideClickHouseClient creates a ClickHouse client and the outcome
// schema when enabled; nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.OutcomeSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when enabled; nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaPublisher wraps the producer; nil when Kafka is disabled.
func ProvideKafkaPublisher(producer *pkgkafka.Producer, cfg *config.Config) *internalrepo.KafkaPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, internalrepo.KafkaTopics{
		Outcomes:  cfg.Kafka.Topics.Outcomes,
		Lifecycle: cfg.Kafka.Topics.Lifecycle,
		Decisions: cfg.Kafka.Topics.Decisions,
	})
}

// ProvideOutcomeArchive returns the ClickHouse archive or nil.
func ProvideOutcomeArchive(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) *internalrepo.CHOutcomeArchive {
	if ch == nil {
		return nil
	}
	a := internalrepo.NewCHOutcomeArchive(ch, cfg.ClickHouse.Database)
	a.SetLogger(l.Named("archive"))
	return a
}

func ProvideAggregator(cfg *config.Config) *performance.Aggregator {
	return performance.NewAggregator(performance.Config{
		PatternWindow: cfg.Aggregator.PatternWindow,
		PairWindow:    cfg.Aggregator.PairWindow,
		PairMaxAge:    cfg.Aggregator.PairMaxAge,
		SessionWindow: cfg.Aggregator.SessionWindow,
	})
}

func ProvideLifecycleManager(cfg *config.Config) *lifecycle.Manager {
	c := cfg.Lifecycle
	sessions := make(map[models.Session]lifecycle.SessionRule, len(c.Sessions))
	for name, r := range c.Sessions {
		sessions[models.Session(name)] = lifecycle.SessionRule{Allow: r.Allow, Deny: r.Deny}
	}
	return lifecycle.NewManager(lifecycle.Config{
		QuarantineMinTrades:  c.QuarantineMinTrades,
		QuarantineExpectancy: c.QuarantineExpectancy,
		KillMinTrades:        c.KillMinTrades,
		KillExpectancy:       c.KillExpectancy,
		PromoteMinTrades:     c.PromoteMinTrades,
		PromoteWinRate:       c.PromoteWinRate,
		PromoteMultiplier:    c.PromoteMultiplier,
		MaxMultiplier:        c.MaxMultiplier,
		RecoveryExpectancy:   c.RecoveryExpectancy,
		RecoveryMinTrades:    c.RecoveryMinTrades,
		TestingTrades:        c.TestingTrades,
		TestingMultiplier:    c.TestingMultiplier,
		PairMinTrades:        c.PairMinTrades,
		PairDisableWinRate:   c.PairDisableWinRate,
		PairBoostWinRate:     c.PairBoostWinRate,
		PairBoostMultiplier:  c.PairBoostMultiplier,
		Sessions:             sessions,
	})
}

// ProvideOutcomeRecorder wires the file-backed logs plus whichever mirrors
// are enabled.
func ProvideOutcomeRecorder(
	cfg *config.Config,
	l *applogger.Logger,
	agg *performance.Aggregator,
	lc *lifecycle.Manager,
	mt repository.Metrics,
	pub *internalrepo.KafkaPublisher,
	archive *internalrepo.CHOutcomeArchive,
	redis *pkgcache.RedisCache,
) *usecase.OutcomeRecorder {
	outcomes := internalrepo.NewFileOutcomeLog(dataPath(cfg, cfg.Storage.OutcomeLog), cfg.Storage.SyncWrites, l)
	decisions := internalrepo.NewFileDecisionLog(dataPath(cfg, cfg.Storage.DecisionLog), cfg.Storage.SyncWrites, l)
	state := internalrepo.NewFileStateStore(dataPath(cfg, cfg.Storage.StateFile))

	opts := []usecase.RecorderOption{usecase.WithRecorderLogger(l.Named("recorder"))}
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub))
	}
	if archive != nil {
		opts = append(opts, usecase.WithArchive(archive))
	}
	if redis != nil {
		opts = append(opts, usecase.WithSnapshotMirror(internalrepo.NewRedisSnapshotMirror(redis, cfg.Redis.SnapshotTTL)))
	}
	return usecase.NewOutcomeRecorder(outcomes, decisions, state, agg, lc, mt, opts...)
}

func ProvideOutcomeMonitor(cfg *config.Config, rec *usecase.OutcomeRecorder, mt repository.Metrics, l *applogger.Logger) *usecase.OutcomeMonitor {
	return usecase.NewOutcomeMonitor(rec, mt,
		usecase.WithHorizon(cfg.Monitor.Horizon),
		usecase.WithPipSizes(cfg.Monitor.PipSizes),
		usecase.WithMonitorLogger(l.Named("monitor")),
	)
}

func ProvideCandleBook(cfg *config.Config) *usecase.CandleBook {
	return usecase.NewCandleBook(repository.NormalizeTimeframe(cfg.Regime.CandleTimeframe), cfg.Regime.CandleHistory)
}

// ProvideRegimeClassifier reads candles from ClickHouse or from the
// in-process candle book.
func ProvideRegimeClassifier(cfg *config.Config, book *usecase.CandleBook, ch *pkgch.Client, l *applogger.Logger) *regime.Classifier {
	var src repository.CandleSource = book
	if cfg.Regime.Source == "clickhouse" && ch != nil {
		store := internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Database, cfg.ClickHouse.CandleTable)
		store.SetLogger(l.Named("candles"))
		src = store
	}
	c := regime.NewClassifier(regime.Config{
		Period:            cfg.Regime.Period,
		MinCandles:        cfg.Regime.MinCandles,
		ADXTrendThreshold: cfg.Regime.ADXTrendThreshold,
		ATRHighRatio:      cfg.Regime.ATRHighRatio,
		Timeframe:         repository.NormalizeTimeframe(cfg.Regime.CandleTimeframe),
		History:           cfg.Regime.CandleHistory,
	}, src)
	c.SetLogger(l.Named("regime"))
	return c
}

func ProvideSignalEvaluator(
	cfg *config.Config,
	l *applogger.Logger,
	monitor *usecase.OutcomeMonitor,
	classifier *regime.Classifier,
	agg *performance.Aggregator,
	lc *lifecycle.Manager,
	mt repository.Metrics,
	pub *internalrepo.KafkaPublisher,
) *usecase.SignalEvaluator {
	c := cfg.Calibration
	adj := make(map[models.Session]float64, len(c.SessionAdjustments))
	for s, v := range c.SessionAdjustments {
		adj[models.Session(s)] = v
	}
	calibrator := calibration.NewCalibrator(calibration.Config{
		Min:                c.Min,
		Max:                c.Max,
		PatternMinTrades:   c.PatternMinTrades,
		PatternWeight:      c.PatternWeight,
		PairMinSamples:     c.PairMinSamples,
		PairWeight:         c.PairWeight,
		SessionMinVolume:   c.SessionMinVolume,
		SessionAdjustments: adj,
		StreakMin:          c.StreakMin,
		StreakStep:         c.StreakStep,
		StreakCap:          c.StreakCap,
		ComboMinSamples:    c.ComboMinSamples,
		ComboWinRate:       c.ComboWinRate,
		ComboBonus:         c.ComboBonus,
	}, agg)
	detector := convergence.NewDetector(convergence.Config{
		Window:     cfg.Convergence.Window,
		PerPattern: cfg.Convergence.PerPattern,
		Cap:        cfg.Convergence.Cap,
	})

	e := usecase.NewSignalEvaluator(monitor, classifier, detector, calibrator, lc, mt, cfg.Monitor.Horizon)
	e.SetLogger(l.Named("evaluator"))
	if pub != nil {
		e.SetPublisher(pub)
	}
	return e
}

// ProvideTickPipeline gates ticks in front of the candle book and the
// outcome monitor.
func ProvideTickPipeline(book *usecase.CandleBook, monitor *usecase.OutcomeMonitor, mt repository.Metrics, l *applogger.Logger) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(usecase.NewTickRouter(book, monitor), mt,
		mid.WithBufferSize(2000),
		mid.WithPipelineLogger(l.Named("pipeline")),
	)
}

// ProvideRetrainManager returns nil when retraining is disabled.
func ProvideRetrainManager(cfg *config.Config, l *applogger.Logger, mt repository.Metrics, redis *pkgcache.RedisCache) *retrain.Manager {
	if !cfg.Retrain.Enabled {
		return nil
	}
	var trainer domsvc.Trainer
	switch cfg.Retrain.Mode {
	case "http":
		trainer = retrain.NewHTTPTrainer(cfg.Retrain.URL, cfg.Retrain.Timeout)
	default:
		trainer = retrain.NewExecTrainer(cfg.Retrain.Command, cfg.Retrain.Args, cfg.Retrain.WorkDir, cfg.Retrain.Timeout)
	}
	opts := []retrain.Option{
		retrain.WithLogger(l.Named("retrain")),
		retrain.WithMetrics(mt),
	}
	if redis != nil {
		opts = append(opts, retrain.WithLock(redis))
	}
	return retrain.NewManager(retrain.Config{
		EntryThreshold:  cfg.Retrain.EntryThreshold,
		MaxInterval:     cfg.Retrain.MaxInterval,
		FailureCooldown: cfg.Retrain.FailureCooldown,
		Timeout:         cfg.Retrain.Timeout,
		ModelPath:       cfg.Retrain.ModelPath,
	},
		dataPath(cfg, cfg.Storage.OutcomeLog),
		trainer,
		internalrepo.NewFileStatusStore(dataPath(cfg, cfg.Storage.RetrainStatusFile)),
		opts...,
	)
}

// ProvideJobQueue runs manual retrain requests through Redis so they
// survive a restart. Nil without Redis or a retrain manager.
func ProvideJobQueue(cfg *config.Config, l *applogger.Logger, redis *pkgcache.RedisCache, mgr *retrain.Manager) *queue.RedisQueue {
	if redis == nil || mgr == nil || !cfg.Redis.RetrainJobs {
		return nil
	}
	q := queue.NewRedisQueue(l.Named("queue"), queue.Config{
		Workers:    1,
		RetryLimit: 3,
		RetryDelay: 30 * time.Second,
	}, redis.Client(), queue.WithKeyPrefix(cfg.Redis.KeyPrefix+":queue"))
	q.RegisterJob(retrain.NewJob(mgr))
	return q
}

func ProvideAPIHandler(
	cfg *config.Config,
	l *applogger.Logger,
	evaluator *usecase.SignalEvaluator,
	rec *usecase.OutcomeRecorder,
	monitor *usecase.OutcomeMonitor,
	pipeline *mid.RealtimePipeline,
	mgr *retrain.Manager,
	q *queue.RedisQueue,
	ch *pkgch.Client,
	redis *pkgcache.RedisCache,
) *api.Handler {
	opts := []api.Option{
		api.WithLogger(l.Named("api")),
		api.WithSnapshotCache(pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(64)), 2*time.Second),
		api.WithRateLimit(ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)),
	}
	switch {
	case mgr != nil && q != nil:
		opts = append(opts, api.WithRetrain(mgr, q))
	case mgr != nil:
		opts = append(opts, api.WithRetrain(mgr, nil))
	}

	var checks []api.HealthCheck
	if ch != nil {
		checks = append(checks, api.HealthCheck{Name: "clickhouse", Check: ch.Health})
	}
	if redis != nil {
		checks = append(checks, api.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redis.Client().Ping(ctx).Err()
		}})
	}
	if len(checks) > 0 {
		opts = append(opts, api.WithHealthChecks(checks...))
	}
	return api.NewHandler(evaluator, rec, monitor, pipeline, opts...)
}

func ProvideHTTPServer(cfg *config.Config, h *api.Handler, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithAddr(cfg.Server.Host, cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLimits(cfg.Server.BodyLimit, cfg.Server.SlowRequest),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	} else {
		opts = append(opts, xhttp.WithMetricsPath(""))
	}
	return xhttp.NewServer(h, l, opts...)
}

// ProvideKafkaConsumer subscribes to candidate signals and quotes; nil when
// Kafka is disabled.
func ProvideKafkaConsumer(
	cfg *config.Config,
	l *applogger.Logger,
	evaluator *usecase.SignalEvaluator,
	pipeline *mid.RealtimePipeline,
	pub *internalrepo.KafkaPublisher,
	mt repository.Metrics,
) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartAtLatest(cfg.Kafka.Consumer.StartAtLatest),
		pkgkafka.WithConsumerConcurrency(cfg.Kafka.Consumer.Workers, cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetHook(pkgkafka.NewHookChain(pkgkafka.NewTracingHook(l.Named("kafka-hook"), time.Second)))

	var publisher repository.EventPublisher
	if pub != nil {
		publisher = pub
	}
	consumer.RegisterHandler(usecase.NewKafkaCandidatesHandler(cfg.Kafka.Topics.Candidates, evaluator, publisher, l.Named("candidates")))
	if cfg.Kafka.Topics.Ticks != "" {
		ticks := usecase.NewKafkaTicksHandler(cfg.Kafka.Topics.Ticks, pipeline, mt)
		ticks.SetLogger(l.Named("ticks"))
		consumer.RegisterHandler(ticks)
	}
	return consumer, nil
}

// ProvideFeed returns the WebSocket quote feed or nil.
func ProvideFeed(cfg *config.Config, l *applogger.Logger) *feed.Client {
	if !cfg.Feed.Enabled {
		return nil
	}
	return feed.New(cfg.Feed.APIKey, cfg.Feed.URL, cfg.Feed.Symbols, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, l.Named("feed"))
}

// ProvideApp assembles the application and registers resources to close on
// shutdown.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	rec *usecase.OutcomeRecorder,
	monitor *usecase.OutcomeMonitor,
	pipeline *mid.RealtimePipeline,
	mgr *retrain.Manager,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
	fd *feed.Client,
	pub *internalrepo.KafkaPublisher,
	ch *pkgch.Client,
	redis *pkgcache.RedisCache,
) *server.App {
	app := server.New(cfg, l, server.Components{
		HTTP:     srv,
		Recorder: rec,
		Monitor:  monitor,
		Pipeline: pipeline,
		Retrain:  mgr,
		Consumer: consumer,
		Queue:    q,
		Feed:     fd,
	})

	if ch != nil {
		app.OnClose("clickhouse", ch)
	}
	if redis != nil {
		app.OnClose("redis", redis)
	}
	if pub != nil {
		app.OnClose("kafka-producer", pub)
		if cfg.Log.CollectorTopic != "" {
			app.OnClose("log-collector", collectorCloser{l})
		}
	}
	if fd != nil {
		app.OnClose("feed", fd)
	}
	return app
}

type collectorCloser struct{ l *applogger.Logger }

func (c collectorCloser) Close() error {
	c.l.RemoveCollector()
	return nil
}
