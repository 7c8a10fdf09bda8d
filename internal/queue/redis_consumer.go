/**
 * Direct Redis Queue Consumer for the OCR Worker
 *
 * Compatible with the TypeScript RedisQueue producer: job ids are pushed to a
 * LIST, job bodies live in the <queue>:data hash, and every status change is
 * published on <queue>:events.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/observability"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

// Job statuses tracked in Redis sets
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// statusWriteTimeout bounds bookkeeping writes made after a job finishes
const statusWriteTimeout = 5 * time.Second

var errNoJobs = stderrors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobPayload contains the image to recognize
type JobPayload struct {
	RecognizeTaskPayload
}

// UnmarshalJSON accepts the image as a base64 string or a Node.js Buffer
// object, under "image" or the legacy "fileBuffer" key
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	aux := struct {
		JobID      string      `json:"jobId"`
		Filename   string      `json:"filename"`
		MimeType   string      `json:"mimeType"`
		Engine     string      `json:"engine"`
		Mode       string      `json:"mode"`
		Image      interface{} `json:"image"`
		FileBuffer interface{} `json:"fileBuffer"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	p.JobID = aux.JobID
	p.Filename = aux.Filename
	p.MimeType = aux.MimeType
	p.Engine = aux.Engine
	p.Mode = aux.Mode

	field, raw := "image", aux.Image
	if raw == nil {
		field, raw = "fileBuffer", aux.FileBuffer
	}
	image, err := decodeBinary(field, raw)
	if err != nil {
		return err
	}
	p.Image = image
	return nil
}

// RedisConsumer handles job consumption from a Redis list
type RedisConsumer struct {
	client    *redis.Client
	processor processor.OCRProcessorInterface
	config    *RedisConsumerConfig
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.OCRProcessorInterface
	ProcessingTimeout time.Duration
	ResultTTL         time.Duration
	Metrics           *observability.Metrics
	Logger            *logging.Logger
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisConsumerWithClient(client, cfg)
}

// NewRedisConsumerWithClient creates a consumer over an existing client
func NewRedisConsumerWithClient(client *redis.Client, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.QueueName == "" {
		cfg.QueueName = "ocr:jobs"
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = defaultProcessingTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("redis-consumer")
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		logger:    cfg.Logger,
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.logger.Info("Redis queue consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping Redis queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if stderrors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			c.logger.Warn("Worker error", "worker", id, "error", err)
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	id := result[1]

	raw, err := c.client.HGet(c.ctx, c.key("data"), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.updateJobStatus(id, StatusFailed, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = id
	}
	jobID := job.Payload.JobID

	c.updateJobStatus(jobID, StatusProcessing, nil)
	c.logger.Info("Processing job", "jobId", jobID, "filename", job.Payload.Filename, "attempt", job.Attempts+1)

	out, err := c.processJob(&job)
	if err == nil {
		c.updateJobStatus(jobID, StatusCompleted, out)
		c.config.Metrics.RecordQueueJob("redis", StatusCompleted)
		c.logger.Info("Job completed", "jobId", jobID)
		return nil
	}

	c.logger.Error("Job failed", "jobId", jobID, "error", err)
	job.Attempts++
	if retryable(err) && job.Attempts < job.MaxRetries {
		updated, _ := json.Marshal(job)
		ctx, cancel := c.writeContext()
		pipe := c.client.TxPipeline()
		pipe.HSet(ctx, c.key("data"), job.ID, updated)
		pipe.LPush(ctx, c.config.QueueName, job.ID)
		_, perr := pipe.Exec(ctx)
		cancel()
		if perr != nil {
			c.logger.Error("Failed to re-queue job", "jobId", jobID, "error", perr)
		} else {
			c.logger.Info("Job re-queued for retry", "jobId", jobID, "attempt", job.Attempts, "maxRetries", job.MaxRetries)
			return nil
		}
	}

	c.updateJobStatus(jobID, StatusFailed, failureDetails(err, job.Attempts))
	c.config.Metrics.RecordQueueJob("redis", StatusFailed)
	return nil
}

// processJob runs recognition under the processing timeout
func (c *RedisConsumer) processJob(job *RedisJobData) (interface{}, error) {
	timeout := c.config.ProcessingTimeout
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	result, err := recognize(ctx, c.processor, &job.Payload.RecognizeTaskPayload)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded && !stderrors.Is(err, errors.ErrProcessingTimeout) {
			return nil, errors.NewProcessingTimeoutError(job.Payload.JobID, timeout, err)
		}
		return nil, err
	}
	return result, nil
}

func failureDetails(err error, attempts int) map[string]interface{} {
	details := map[string]interface{}{
		"error":    err.Error(),
		"attempts": attempts,
	}
	var pe *errors.ProcessingError
	if stderrors.As(err, &pe) {
		for k, v := range pe.ToMap() {
			details[k] = v
		}
	}
	return details
}

// writeContext outlives consumer shutdown so a job that was cut short can
// still be recorded
func (c *RedisConsumer) writeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.ctx), statusWriteTimeout)
}

// updateJobStatus moves the job between status sets, stores its result and
// publishes the change
func (c *RedisConsumer) updateJobStatus(jobID string, status string, result interface{}) {
	ctx, cancel := c.writeContext()
	defer cancel()

	pipe := c.client.TxPipeline()
	switch status {
	case StatusProcessing:
		pipe.SAdd(ctx, c.key(StatusProcessing), jobID)
	case StatusCompleted:
		pipe.SRem(ctx, c.key(StatusProcessing), jobID)
		pipe.SAdd(ctx, c.key(StatusCompleted), jobID)
		c.storeResult(ctx, pipe, "results", jobID, result)
	case StatusFailed:
		pipe.SRem(ctx, c.key(StatusProcessing), jobID)
		pipe.SAdd(ctx, c.key(StatusFailed), jobID)
		c.storeResult(ctx, pipe, "errors", jobID, result)
	}

	pipe.Publish(ctx, c.key("events"), jobEvent(jobID, status, time.Now()))

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to update job status", "jobId", jobID, "status", status, "error", err)
	}
}

func (c *RedisConsumer) storeResult(ctx context.Context, pipe redis.Pipeliner, suffix, jobID string, result interface{}) {
	if result == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("Failed to marshal job result", "jobId", jobID, "error", err)
		return
	}
	pipe.HSet(ctx, c.key(suffix), jobID, data)
	if c.config.ResultTTL > 0 {
		pipe.Expire(ctx, c.key(suffix), c.config.ResultTTL)
	}
}

func jobEvent(jobID, status string, at time.Time) []byte {
	data, _ := json.Marshal(map[string]interface{}{
		"event":     "job:" + status,
		"jobId":     jobID,
		"timestamp": at.Format(time.RFC3339),
	})
	return data
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key(StatusProcessing))
	completed := pipe.SCard(ctx, c.key(StatusCompleted))
	failed := pipe.SCard(ctx, c.key(StatusFailed))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
