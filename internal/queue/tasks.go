package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/ocr-worker/internal/engines"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

// Task types handled by the asynq consumer
const (
	TypeRecognize      = "ocr:recognize"
	TypeRecognizeBatch = "ocr:recognize-batch"
)

// RecognizeTaskPayload is one image to recognize. Image is base64 on the wire.
// Engine optionally pins a single engine ("tesseract", "easyocr", "trocr");
// empty runs the multi-engine selection.
type RecognizeTaskPayload struct {
	JobID    string `json:"jobId"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType,omitempty"`
	Engine   string `json:"engine,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Image    []byte `json:"image"`
}

// RecognizeBatchPayload is a batch of images processed under one job id
type RecognizeBatchPayload struct {
	JobID  string                 `json:"jobId"`
	Images []RecognizeTaskPayload `json:"images"`
}

func (p *RecognizeTaskPayload) request() *processor.RecognizeRequest {
	return &processor.RecognizeRequest{
		JobID:    p.JobID,
		Filename: p.Filename,
		MimeType: p.MimeType,
		Image:    p.Image,
	}
}

// engineSelection resolves the optional engine pin
func (p *RecognizeTaskPayload) engineSelection() (kind ocr.EngineKind, mode engines.SpanMode, pinned bool, err error) {
	if p.Engine == "" {
		return 0, engines.SpanEnhanced, false, nil
	}
	kind, ok := ocr.ParseEngineKind(p.Engine)
	if !ok {
		return 0, 0, false, fmt.Errorf("unknown engine %q", p.Engine)
	}
	mode, ok = engines.ParseSpanMode(p.Mode)
	if !ok {
		return 0, 0, false, fmt.Errorf("unknown span mode %q", p.Mode)
	}
	return kind, mode, true, nil
}

// recognize runs the payload against the processor and returns the JSON
// result body
func recognize(ctx context.Context, proc processor.OCRProcessorInterface, p *RecognizeTaskPayload) (interface{}, error) {
	kind, mode, pinned, err := p.engineSelection()
	if err != nil {
		return nil, err
	}
	if pinned {
		return proc.RecognizeWith(ctx, p.request(), kind, mode)
	}
	return proc.RecognizeBest(ctx, p.request())
}

// decodeBinary accepts either a base64 string or a Node.js Buffer object
// ({"type":"Buffer","data":[...]})
func decodeBinary(field string, raw interface{}) ([]byte, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 %s: %w", field, err)
		}
		return decoded, nil
	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return nil, fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("Buffer object missing 'data' array")
		}
		out := make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return nil, fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			out[i] = byte(byteVal)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be either base64 string or Buffer object, got %T", field, v)
	}
}

// Enqueuer submits recognition tasks to asynq
type Enqueuer struct {
	client    *asynq.Client
	queueName string
	retention time.Duration
}

// NewEnqueuer creates an enqueuer for the given queue
func NewEnqueuer(redisURL, queueName string, retention time.Duration) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		queueName: queueName,
		retention: retention,
	}, nil
}

// EnqueueRecognize submits one image; the job id doubles as the task id so
// resubmitting the same job is rejected by asynq
func (e *Enqueuer) EnqueueRecognize(ctx context.Context, payload *RecognizeTaskPayload) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return e.enqueue(ctx, asynq.NewTask(TypeRecognize, data), payload.JobID)
}

// EnqueueBatch submits a batch task
func (e *Enqueuer) EnqueueBatch(ctx context.Context, payload *RecognizeBatchPayload) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return e.enqueue(ctx, asynq.NewTask(TypeRecognizeBatch, data), payload.JobID)
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task, jobID string) (*asynq.TaskInfo, error) {
	opts := []asynq.Option{
		asynq.Queue(e.queueName),
		asynq.MaxRetry(3),
	}
	if e.retention > 0 {
		opts = append(opts, asynq.Retention(e.retention))
	}
	if jobID != "" {
		opts = append(opts, asynq.TaskID(jobID))
	}
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}

// Close releases the client connection
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
