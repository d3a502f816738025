package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/anomaly"
	"github.com/gridlens/ami-telemetry-worker/internal/backpressure"
	"github.com/gridlens/ami-telemetry-worker/internal/config"
	"github.com/gridlens/ami-telemetry-worker/internal/db"
	"github.com/gridlens/ami-telemetry-worker/internal/emulator"
	"github.com/gridlens/ami-telemetry-worker/internal/generator"
	"github.com/gridlens/ami-telemetry-worker/internal/mq"
	"github.com/gridlens/ami-telemetry-worker/internal/repository"
	"github.com/gridlens/ami-telemetry-worker/internal/scheduler"
	"github.com/gridlens/ami-telemetry-worker/internal/service"
	"github.com/gridlens/ami-telemetry-worker/internal/validator"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	ingestor *service.Ingestor,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		RabbitMQ:         cfg.RabbitMQ,
		Logger:           logger,
		MessageProcessor: ingestor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting worker consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("concurrency", cfg.RabbitMQ.Concurrency))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

func startScheduler(lc fx.Lifecycle, sched *scheduler.Scheduler, cfg *config.Config, logger *zap.Logger) {
	if !cfg.Scheduler.Enabled {
		logger.Info("auto scheduler disabled by configuration")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sched.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sched.Stop()
			return nil
		},
	})
}

// ProvideNoiseSource selects the noise strategy once at construction.
func ProvideNoiseSource(cfg *config.Config) generator.NoiseSource {
	if cfg.Emulator.Stochastic {
		return generator.NewStochasticNoise(time.Now().UnixNano())
	}
	return generator.DeterministicNoise{}
}

// ProvideGenerator creates the synthetic reading generator.
func ProvideGenerator(cfg *config.Config, noise generator.NoiseSource) *generator.Generator {
	return generator.NewGenerator(noise, cfg.Emulator.NominalVoltage)
}

// ProvideEffectEngine creates the disruption effect engine.
func ProvideEffectEngine(cfg *config.Config, noise generator.NoiseSource) *generator.EffectEngine {
	return generator.NewEffectEngine(noise, cfg.Anomaly.LowVoltage)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideGovernor creates the backpressure governor over the publisher's
// depth inspection.
func ProvideGovernor(publisher *mq.Publisher, cfg *config.Config, logger *zap.Logger) *backpressure.Governor {
	return backpressure.NewGovernor(publisher, cfg.Emulator.QueueDepthLimit, logger)
}

// ProvideEmulator creates the batch publisher.
func ProvideEmulator(
	gen *generator.Generator,
	effects *generator.EffectEngine,
	repo *repository.Repository,
	publisher *mq.Publisher,
	governor *backpressure.Governor,
	cfg *config.Config,
	logger *zap.Logger,
) *emulator.Emulator {
	return emulator.NewEmulator(gen, effects, repo, publisher, governor, cfg.RabbitMQ.Concurrency, logger)
}

// ProvideScheduler creates the always-on interval scheduler.
func ProvideScheduler(emu *emulator.Emulator, cfg *config.Config, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(cfg.Scheduler, emu, logger)
}

// ProvideDetector creates the batch anomaly detector.
func ProvideDetector(repo *repository.Repository, cfg *config.Config, noise generator.NoiseSource, logger *zap.Logger) *anomaly.Detector {
	return anomaly.NewDetector(repo, cfg.Anomaly, noise, logger)
}

// ProvideValidator creates the publish job validator.
func ProvideValidator() *validator.Validator {
	return validator.NewValidator()
}

// ProvideIngestor creates the ingestion processor.
func ProvideIngestor(repo *repository.Repository, v *validator.Validator, detector *anomaly.Detector, logger *zap.Logger) *service.Ingestor {
	return service.NewIngestor(repo, v, detector, logger)
}

// ProvideService creates the core operations surface.
func ProvideService(
	emu *emulator.Emulator,
	sched *scheduler.Scheduler,
	repo *repository.Repository,
	publisher *mq.Publisher,
	consumer *mq.Consumer,
	noise generator.NoiseSource,
	cfg *config.Config,
	logger *zap.Logger,
) *service.Service {
	return service.NewService(emu, sched, repo, publisher, consumer, noise, cfg, logger)
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL, cfg.ServiceName)
}
