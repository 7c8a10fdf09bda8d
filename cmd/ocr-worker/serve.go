package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocr-worker/internal/api"
	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/engines"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/observability"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when enabled, the queue consumers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.NewLogger("main")
	logger.Info("OCR worker starting",
		"version", Version,
		"address", cfg.Server.Address,
		"queueEnabled", cfg.Queue.Enabled)

	tracer, err := observability.NewTracer(ctx, cfg.Tracing, logging.NewLogger("tracing"))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics()

	// Engines initialize once; failures leave the engine unavailable
	logger.Info("Initializing engines...")
	registry := engines.Bootstrap(ctx, cfg, logging.NewLogger("engines"))

	proc, err := newProcessor(cfg, registry, metrics)
	if err != nil {
		return err
	}

	var asynqConsumer *queue.Consumer
	var redisConsumer *queue.RedisConsumer
	if cfg.Queue.Enabled {
		logger.Info("Connecting to Redis queue...", "queue", cfg.Queue.Name)

		asynqConsumer, err = queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.Redis.URL,
			QueueName:         cfg.Queue.Name,
			Concurrency:       cfg.Queue.Concurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.Queue.ProcessingTimeout,
			Metrics:           metrics,
			Logger:            logging.NewLogger("asynq-consumer"),
		})
		if err != nil {
			return err
		}
		if err := asynqConsumer.Start(ctx); err != nil {
			return err
		}

		redisConsumer, err = queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.Redis.URL,
			QueueName:         cfg.Queue.Name,
			Concurrency:       cfg.Queue.Concurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.Queue.ProcessingTimeout,
			ResultTTL:         cfg.Queue.ResultTTL,
			Metrics:           metrics,
			Logger:            logging.NewLogger("redis-consumer"),
		})
		if err != nil {
			_ = asynqConsumer.Stop(ctx)
			return err
		}
		if err := redisConsumer.Start(); err != nil {
			_ = asynqConsumer.Stop(ctx)
			return err
		}
	}

	server := api.NewServer(api.ServerConfig{
		BodyLimitMB: cfg.Server.BodyLimitMB,
		MaxBatch:    cfg.Batch.MaxImages,
	}, proc, metrics, logging.NewLogger("api"))
	if asynqConsumer != nil {
		server.AddQueueStats("asynq", func(ctx context.Context) (interface{}, error) {
			return asynqConsumer.GetStatistics(), nil
		})
	}
	if redisConsumer != nil {
		server.AddQueueStats("redis", func(ctx context.Context) (interface{}, error) {
			stats, err := redisConsumer.GetStats(ctx)
			if err != nil {
				return nil, err
			}
			return stats, nil
		})
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Listen(cfg.Server.Address)
	}()

	health := proc.Health()
	logger.Info("===========================================")
	logger.Info("OCR Worker is READY")
	logger.Info("===========================================")
	logger.Info("Engines", "loaded", health.ModelsLoaded)
	logger.Info("HTTP", "address", cfg.Server.Address)
	logger.Info("Batch", "maxImages", cfg.Batch.MaxImages, "maxConcurrent", cfg.Batch.MaxConcurrent)
	if cfg.Queue.Enabled {
		logger.Info("Queue", "name", cfg.Queue.Name, "workers", cfg.Queue.Concurrency)
	}
	logger.Info("Tracing", "enabled", tracer.IsEnabled())
	logger.Info("===========================================")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, initiating graceful shutdown...", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error stopping HTTP server", "error", err)
	}
	if redisConsumer != nil {
		if err := redisConsumer.Stop(); err != nil {
			logger.Warn("Error stopping Redis consumer", "error", err)
		}
	}
	if asynqConsumer != nil {
		if err := asynqConsumer.Stop(shutdownCtx); err != nil {
			logger.Warn("Error stopping asynq consumer", "error", err)
		}
	}

	logger.Info("Shutdown complete")
	return nil
}

func newProcessor(cfg *config.Config, registry *engines.Registry, metrics *observability.Metrics) (*processor.OCRProcessor, error) {
	return processor.NewOCRProcessor(&processor.ProcessorConfig{
		Registry:       registry,
		EngineTimeout:  cfg.Engines.Timeout,
		MaxBatch:       cfg.Batch.MaxImages,
		MaxConcurrent:  cfg.Batch.MaxConcurrent,
		MaxImagePixels: cfg.Server.MaxImagePixels,
		Metrics:        metrics,
		Logger:         logging.NewLogger("processor"),
	})
}
