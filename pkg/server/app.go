package server

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	mid "Calibra/internal/middleware"
	"Calibra/internal/service/feed"
	"Calibra/internal/services/retrain"
	"Calibra/internal/usecase"
	"Calibra/pkg/config"
	xhttp "Calibra/pkg/http"
	pkgkafka "Calibra/pkg/kafka"
	applogger "Calibra/pkg/logger"
	"Calibra/pkg/queue"
)

// Components are the long-running parts of the engine. Optional ones are nil
// when their backend is disabled.
type Components struct {
	HTTP     *xhttp.Server
	Recorder *usecase.OutcomeRecorder
	Monitor  *usecase.OutcomeMonitor
	Pipeline *mid.RealtimePipeline
	Retrain  *retrain.Manager
	Consumer *pkgkafka.Consumer
	Queue    *queue.RedisQueue
	Feed     *feed.Client
}

type closer struct {
	name string
	c    io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg     *config.Config
	logger  *applogger.Logger
	c       Components
	closers []closer
}

// New creates a new App. Closers registered with OnClose run in reverse
// order after every loop has returned.
func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{cfg: cfg, logger: l.Named("app"), c: c}
}

// OnClose registers a resource to release on shutdown.
func (a *App) OnClose(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, closer{name: name, c: c})
	}
}

// Logger returns the application logger.
func (a *App) Logger() *applogger.Logger { return a.logger }

// Run restores persisted state, starts every loop and blocks until ctx is
// done or one loop fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if err := a.c.Recorder.Restore(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	if a.c.Retrain != nil {
		if err := a.c.Retrain.Load(ctx); err != nil {
			return fmt.Errorf("load retrain status: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.c.HTTP.Run(ctx) })
	g.Go(func() error { return a.c.Pipeline.Start(ctx) })
	g.Go(func() error { return a.c.Monitor.RunSweeper(ctx, a.cfg.Monitor.SweepInterval) })
	g.Go(func() error { return a.c.Recorder.RunPersister(ctx, a.cfg.Storage.SnapshotInterval) })
	g.Go(func() error { return a.c.Recorder.RunComboRebuilder(ctx, a.cfg.Aggregator.ComboRebuildInterval) })

	if a.c.Retrain != nil {
		g.Go(func() error { return a.c.Retrain.RunChecker(ctx, a.cfg.Retrain.CheckInterval) })
	}
	if a.c.Queue != nil {
		g.Go(func() error { return a.c.Queue.Run(ctx) })
	}
	if a.c.Consumer != nil {
		g.Go(func() error { return a.c.Consumer.Run(ctx) })
	}
	if a.c.Feed != nil {
		g.Go(func() error { return a.c.Feed.Run(ctx, a.c.Pipeline) })
	}

	a.logger.Info("started",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("port", a.cfg.Server.Port),
		applogger.Bool("kafka", a.c.Consumer != nil),
		applogger.Bool("queue", a.c.Queue != nil),
		applogger.Bool("feed", a.c.Feed != nil),
		applogger.Bool("retrain", a.c.Retrain != nil))

	err := g.Wait()
	a.c.Pipeline.Stop()
	if err != nil {
		a.logger.Error("stopped with error", applogger.Error(err))
		return err
	}
	a.logger.Info("shutdown complete", applogger.Int("open_signals", a.c.Monitor.Count()))
	return nil
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		cl := a.closers[i]
		start := time.Now()
		if err := cl.c.Close(); err != nil {
			a.logger.Warn("close failed", applogger.String("resource", cl.name), applogger.Error(err))
			continue
		}
		a.logger.Debug("closed", applogger.String("resource", cl.name), applogger.Duration("took", time.Since(start)))
	}
}
