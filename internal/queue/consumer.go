/**
 * Queue Consumer for the OCR Worker
 *
 * Consumes recognition tasks from Redis through asynq and writes the
 * orchestrated result back through the task's ResultWriter.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/observability"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

const defaultProcessingTimeout = 5 * time.Minute

// Consumer handles task consumption from the asynq queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.OCRProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.OCRProcessorInterface
	ProcessingTimeout time.Duration
	Metrics           *observability.Metrics
	Logger            *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("asynq-consumer")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := cfg.Logger
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "payloadBytes", len(task.Payload()), "error", err)
			}),
			Logger: &asynqLogger{logger: logger},
		},
	)

	c := NewConsumerWithServer(server, cfg)
	return c, nil
}

// NewConsumerWithServer wires handlers onto an existing server. A nil server
// yields a consumer whose handlers can be invoked directly.
func NewConsumerWithServer(server *asynq.Server, cfg *ConsumerConfig) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("asynq-consumer")
	}
	c := &Consumer{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
		logger:    cfg.Logger,
	}
	c.mux.HandleFunc(TypeRecognize, c.handleRecognize)
	c.mux.HandleFunc(TypeRecognizeBatch, c.handleRecognizeBatch)
	return c
}

// Handler exposes the task router
func (c *Consumer) Handler() asynq.Handler {
	return c.mux
}

// Start starts the queue consumer in the background
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

func (c *Consumer) timeout() time.Duration {
	if c.config.ProcessingTimeout > 0 {
		return c.config.ProcessingTimeout
	}
	return defaultProcessingTimeout
}

// handleRecognize processes one ocr:recognize task
func (c *Consumer) handleRecognize(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload RecognizeTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		c.config.Metrics.RecordQueueJob("asynq", "rejected")
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	c.logger.Info("Processing recognition task",
		"jobId", payload.JobID,
		"filename", payload.Filename,
		"engine", payload.Engine,
		"bytes", len(payload.Image))

	timeout := c.timeout()
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := recognize(processCtx, c.processor, &payload)
	if err != nil {
		return c.fail(processCtx, payload.JobID, timeout, startTime, err)
	}

	if err := writeResult(task, result); err != nil {
		c.logger.Warn("Failed to write task result", "jobId", payload.JobID, "error", err)
	}

	c.config.Metrics.RecordQueueJob("asynq", "completed")
	c.logger.Info("Recognition task completed", "jobId", payload.JobID, "durationMs", time.Since(startTime).Milliseconds())
	return nil
}

// handleRecognizeBatch processes one ocr:recognize-batch task
func (c *Consumer) handleRecognizeBatch(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload RecognizeBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		c.config.Metrics.RecordQueueJob("asynq", "rejected")
		return fmt.Errorf("failed to unmarshal batch payload: %v: %w", err, asynq.SkipRetry)
	}

	reqs := make([]*processor.RecognizeRequest, len(payload.Images))
	for i := range payload.Images {
		reqs[i] = payload.Images[i].request()
	}

	timeout := c.timeout()
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.RecognizeBatch(processCtx, payload.JobID, reqs)
	if err != nil {
		return c.fail(processCtx, payload.JobID, timeout, startTime, err)
	}

	if err := writeResult(task, result); err != nil {
		c.logger.Warn("Failed to write batch result", "jobId", payload.JobID, "error", err)
	}

	c.config.Metrics.RecordQueueJob("asynq", "completed")
	c.logger.Info("Batch task completed",
		"jobId", payload.JobID,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"durationMs", time.Since(startTime).Milliseconds())
	return nil
}

// fail classifies a processing error: input errors skip retries, a deadline
// becomes a structured timeout, anything else is retried by asynq
func (c *Consumer) fail(processCtx context.Context, jobID string, timeout time.Duration, startTime time.Time, err error) error {
	duration := time.Since(startTime)

	if processCtx.Err() == context.DeadlineExceeded {
		c.logger.Error("Processing timed out", "jobId", jobID, "duration", duration, "timeout", timeout)
		c.config.Metrics.RecordQueueJob("asynq", "timeout")
		return fmt.Errorf("processing timeout: %w", errors.NewProcessingTimeoutError(jobID, timeout, err))
	}

	c.logger.Error("Processing failed", "jobId", jobID, "duration", duration, "error", err)
	if !retryable(err) {
		c.config.Metrics.RecordQueueJob("asynq", "rejected")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	c.config.Metrics.RecordQueueJob("asynq", "failed")
	return fmt.Errorf("recognition failed: %w", err)
}

// retryable reports whether a later attempt could succeed
func retryable(err error) bool {
	switch {
	case stderrors.Is(err, errors.ErrDecodeFailed),
		stderrors.Is(err, errors.ErrUnsupportedFormat),
		stderrors.Is(err, errors.ErrBatchTooLarge),
		stderrors.Is(err, errors.ErrEngineUnavailable):
		return false
	}
	var pe *errors.ProcessingError
	// payload-level validation errors carry no code
	return stderrors.As(err, &pe)
}

func writeResult(task *asynq.Task, result interface{}) error {
	w := task.ResultWriter()
	if w == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}

// asynqLogger routes asynq's internal logs through the worker logger
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...), "fatal", true)
	os.Exit(1)
}
