//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"Calibra/pkg/config"
	"Calibra/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideKafkaPublisher,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisCache,
		ProvideClickHouseClient,
		ProvideOutcomeArchive,

		// Engine
		ProvideAggregator,
		ProvideLifecycleManager,
		ProvideOutcomeRecorder,
		ProvideOutcomeMonitor,
		ProvideCandleBook,
		ProvideRegimeClassifier,
		ProvideSignalEvaluator,
		ProvideTickPipeline,
		ProvideRetrainManager,
		ProvideJobQueue,

		// Transports
		ProvideAPIHandler,
		ProvideHTTPServer,
		ProvideKafkaConsumer,
		ProvideFeed,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
