/**
 * Multi-Engine OCR Processor
 *
 * Orchestrates recognition across every available engine:
 * - Decodes the image once and hands each engine its own copy
 * - Runs engines concurrently with a per-engine timeout
 * - Scores each result (words*2 + chars*0.1) and selects the best
 * - Isolates failures: a failing engine scores zero, the request still succeeds
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/adverant/nexus/ocr-worker/internal/engines"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/observability"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// NoTextMessage is returned as the best text when every engine scored zero
const NoTextMessage = "No text detected by any engine"

// OCRProcessorInterface defines the recognition operations exposed to the
// HTTP surface, the queue consumers and the CLI
type OCRProcessorInterface interface {
	RecognizeBest(ctx context.Context, req *RecognizeRequest) (*OrchestratedResult, error)
	RecognizeWith(ctx context.Context, req *RecognizeRequest, kind ocr.EngineKind, mode engines.SpanMode) (*EngineResponse, error)
	RecognizeBatch(ctx context.Context, jobID string, reqs []*RecognizeRequest) (*BatchResult, error)
	Health() *HealthReport
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Registry      *engines.Registry
	EngineTimeout time.Duration // zero disables the per-engine deadline
	MaxBatch      int
	MaxConcurrent int
	// MaxImagePixels bounds decoded width*height; zero uses DefaultMaxImagePixels
	MaxImagePixels int
	Metrics        *observability.Metrics
	Logger         *logging.Logger
}

// RecognizeRequest represents one image to recognize
type RecognizeRequest struct {
	JobID    string
	Filename string
	MimeType string
	Image    []byte
}

// EngineOutcome is one engine's result or failure within a request
type EngineOutcome struct {
	Engine   ocr.EngineKind
	Result   ocr.RecognitionResult
	Score    float64
	Duration time.Duration
	Err      error
}

// Failed reports whether the engine produced no result
func (o EngineOutcome) Failed() bool {
	return o.Err != nil
}

// OrchestratedResult is the multi-engine response
type OrchestratedResult struct {
	JobID            string                           `json:"job_id"`
	Filename         string                           `json:"filename,omitempty"`
	BestText         string                           `json:"extracted_text"`
	BestEngine       string                           `json:"best_engine"`
	BestScore        float64                          `json:"best_score"`
	CharCount        int                              `json:"character_count"`
	Results          map[string]ocr.RecognitionResult `json:"all_results"`
	Scores           map[string]float64               `json:"quality_scores"`
	Errors           map[string]string                `json:"errors,omitempty"`
	Availability     map[string]bool                  `json:"available_engines"`
	ProcessingTimeMs int64                            `json:"processing_time_ms"`

	Outcomes []EngineOutcome `json:"-"`
}

// EngineResponse is the single-engine response
type EngineResponse struct {
	JobID            string                `json:"job_id"`
	Filename         string                `json:"filename,omitempty"`
	Result           ocr.RecognitionResult `json:"result"`
	ProcessingTimeMs int64                 `json:"processing_time_ms"`
}

// HealthReport describes which engines loaded at startup
type HealthReport struct {
	Status       string            `json:"status"`
	ModelsLoaded map[string]bool   `json:"models_loaded"`
	Engines      map[string]string `json:"engines"`
}

// OCRProcessor runs recognition requests against an engine registry
type OCRProcessor struct {
	config   *ProcessorConfig
	registry *engines.Registry
	gate     *semaphore.Weighted
	metrics  *observability.Metrics
	logger   *logging.Logger
}

// NewOCRProcessor creates a processor over a frozen registry
func NewOCRProcessor(cfg *ProcessorConfig) (*OCRProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine registry is required")
	}
	if cfg.MaxBatch < 1 {
		return nil, fmt.Errorf("max batch must be at least 1, got %d", cfg.MaxBatch)
	}
	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent must be at least 1, got %d", cfg.MaxConcurrent)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("processor")
	}

	available := cfg.Registry.Availability().Labels()
	cfg.Metrics.SetEngineAvailability(available)
	if len(cfg.Registry.Engines()) == 0 {
		logger.Warn("No OCR engine is available, multi-engine requests will return the no-text sentinel")
	}

	return &OCRProcessor{
		config:   cfg,
		registry: cfg.Registry,
		gate:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		metrics:  cfg.Metrics,
		logger:   logger,
	}, nil
}

// RecognizeBest runs every available engine and returns the highest-scoring
// text. Only an undecodable image fails the call.
func (p *OCRProcessor) RecognizeBest(ctx context.Context, req *RecognizeRequest) (result *OrchestratedResult, err error) {
	startTime := time.Now()
	jobID := ensureJobID(req)

	ctx, span := observability.StartRequestSpan(ctx, "recognize_best", jobID)
	defer func() { observability.EndSpan(span, err) }()

	// Step 1: Decode once
	p.logger.Info("Step 1: Decoding image", "jobId", jobID, "filename", req.Filename, "bytes", len(req.Image))
	img, err := DecodeImage(jobID, req.MimeType, req.Image, p.config.MaxImagePixels)
	if err != nil {
		p.logger.Error("Image decode failed", "jobId", jobID, "error", err)
		return nil, err
	}

	// Step 2: Fan out to available engines
	available := p.registry.Engines()
	p.logger.Info("Step 2: Running engines",
		"jobId", jobID,
		"width", img.Width,
		"height", img.Height,
		"engines", len(available))

	outcomes := make([]EngineOutcome, len(available))
	var wg sync.WaitGroup
	for i, e := range available {
		wg.Add(1)
		go func(i int, e engines.Engine) {
			defer wg.Done()
			outcomes[i] = p.runEngine(ctx, jobID, e, img.Clone())
		}(i, e)
	}
	wg.Wait()

	// a caller deadline that fired mid fan-out is not "no text found"
	if ctxErr := ctx.Err(); ctxErr != nil {
		p.logger.Warn("Request context ended before engines finished", "jobId", jobID, "error", ctxErr)
		return nil, errors.NewProcessingTimeoutError(jobID, time.Since(startTime), ctxErr)
	}

	// Step 3: Score and select
	result = &OrchestratedResult{
		JobID:        jobID,
		Filename:     req.Filename,
		Results:      make(map[string]ocr.RecognitionResult, len(outcomes)),
		Scores:       make(map[string]float64, len(outcomes)),
		Availability: p.registry.Availability().Labels(),
		Outcomes:     outcomes,
	}

	best := -1
	for i := range outcomes {
		o := &outcomes[i]
		label := o.Engine.String()
		if o.Failed() {
			o.Result = ocr.NewRecognitionResult(o.Engine, "", nil)
			o.Score = 0
			if result.Errors == nil {
				result.Errors = make(map[string]string)
			}
			result.Errors[label] = o.Err.Error()
		} else {
			o.Score = ocr.QualityScore(o.Result.Text)
		}
		result.Results[label] = o.Result
		result.Scores[label] = o.Score

		p.logger.Info("Engine scored",
			"jobId", jobID,
			"engine", label,
			"chars", o.Result.CharCount,
			"words", ocr.WordCount(o.Result.Text),
			"score", o.Score,
			"failed", o.Failed())

		// strict comparison keeps the earliest engine on ties
		if o.Score > 0 && (best < 0 || o.Score > outcomes[best].Score) {
			best = i
		}
	}

	if best < 0 {
		result.BestEngine = ocr.NoEngine
		result.BestText = NoTextMessage
	} else {
		winner := outcomes[best]
		result.BestEngine = winner.Engine.String()
		result.BestText = winner.Result.Text
		result.BestScore = winner.Score
		result.CharCount = winner.Result.CharCount
	}
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	p.metrics.RecordSelection(result.BestEngine)
	observability.SetSpanAttributes(ctx,
		attribute.String("ocr.best_engine", result.BestEngine),
		attribute.Float64("ocr.best_score", result.BestScore),
		attribute.Int("ocr.engine_failures", len(result.Errors)))

	p.logger.Info("Step 3: Best result selected",
		"jobId", jobID,
		"bestEngine", result.BestEngine,
		"score", result.BestScore,
		"failures", len(result.Errors),
		"processingTimeMs", result.ProcessingTimeMs)

	return result, nil
}

// RecognizeWith runs a single engine. Unlike RecognizeBest, an unavailable
// or failing engine is returned as an error.
func (p *OCRProcessor) RecognizeWith(ctx context.Context, req *RecognizeRequest, kind ocr.EngineKind, mode engines.SpanMode) (resp *EngineResponse, err error) {
	startTime := time.Now()
	jobID := ensureJobID(req)

	ctx, span := observability.StartRequestSpan(ctx, "recognize_"+kind.String(), jobID)
	defer func() { observability.EndSpan(span, err) }()

	var e engines.Engine
	if kind == ocr.SpanDetector {
		e, err = p.registry.Span(mode)
	} else {
		e, err = p.registry.Engine(kind)
	}
	if err != nil {
		var pe *errors.ProcessingError
		if stderrors.As(err, &pe) {
			pe.JobID = jobID
		}
		p.logger.Warn("Requested engine unavailable", "jobId", jobID, "engine", kind.String(), "mode", mode.String())
		return nil, err
	}

	p.logger.Info("Step 1: Decoding image", "jobId", jobID, "engine", kind.String(), "bytes", len(req.Image))
	img, err := DecodeImage(jobID, req.MimeType, req.Image, p.config.MaxImagePixels)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Step 2: Running engine", "jobId", jobID, "engine", e.Name())
	outcome := p.runEngine(ctx, jobID, e, img)
	if outcome.Failed() {
		return nil, outcome.Err
	}

	return &EngineResponse{
		JobID:            jobID,
		Filename:         req.Filename,
		Result:           outcome.Result,
		ProcessingTimeMs: time.Since(startTime).Milliseconds(),
	}, nil
}

// Health reports per-engine startup state
func (p *OCRProcessor) Health() *HealthReport {
	return &HealthReport{
		Status:       "healthy",
		ModelsLoaded: p.registry.Availability().Labels(),
		Engines:      p.registry.Describe(),
	}
}

// runEngine invokes one engine under the per-engine deadline. The engine runs
// in its own goroutine so a backend that ignores cancellation cannot hold the
// request past its deadline.
func (p *OCRProcessor) runEngine(ctx context.Context, jobID string, e engines.Engine, img *ocr.RasterImage) EngineOutcome {
	kind := e.Kind()
	label := kind.String()
	start := time.Now()

	engineCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.config.EngineTimeout > 0 {
		engineCtx, cancel = context.WithTimeout(ctx, p.config.EngineTimeout)
	}
	defer cancel()

	engineCtx, span := observability.StartEngineSpan(engineCtx, jobID, label)

	done := make(chan EngineOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- EngineOutcome{Err: errors.NewEngineExecutionError(jobID, label, fmt.Errorf("panic: %v", r))}
			}
		}()
		res, err := e.Recognize(engineCtx, img)
		switch {
		case err != nil && engineCtx.Err() != nil:
			err = p.deadlineError(ctx, jobID, label, start, engineCtx.Err())
		case err != nil && !stderrors.Is(err, errors.ErrEngineExecution):
			err = errors.NewEngineExecutionError(jobID, label, err)
		}
		done <- EngineOutcome{Result: res, Err: err}
	}()

	var outcome EngineOutcome
	select {
	case outcome = <-done:
	case <-engineCtx.Done():
		outcome = EngineOutcome{Err: p.deadlineError(ctx, jobID, label, start, engineCtx.Err())}
	}
	outcome.Engine = kind
	outcome.Duration = time.Since(start)
	observability.EndSpan(span, outcome.Err)

	metricOutcome := observability.OutcomeSuccess
	switch {
	case stderrors.Is(outcome.Err, errors.ErrProcessingTimeout):
		metricOutcome = observability.OutcomeTimeout
	case outcome.Err != nil:
		metricOutcome = observability.OutcomeError
	}
	p.metrics.RecordEngineRun(label, metricOutcome, outcome.Duration, outcome.Result.CharCount)

	if outcome.Err != nil {
		p.logger.Error("Engine failed",
			"jobId", jobID,
			"engine", label,
			"durationMs", outcome.Duration.Milliseconds(),
			"error", outcome.Err)
		return outcome
	}

	if outcome.Result.Metadata["preprocessing"] == engines.PreprocessingFallback {
		p.metrics.RecordPreprocessFallback()
	}
	p.logger.Debug("Engine finished",
		"jobId", jobID,
		"engine", label,
		"durationMs", outcome.Duration.Milliseconds(),
		"chars", outcome.Result.CharCount)
	return outcome
}

// deadlineError reports an engine cut off by its own deadline or by the
// request context ending first.
func (p *OCRProcessor) deadlineError(ctx context.Context, jobID, label string, start time.Time, cause error) error {
	limit := p.config.EngineTimeout
	if ctx.Err() != nil || limit <= 0 {
		limit = time.Since(start).Round(time.Millisecond)
	}
	return errors.NewEngineExecutionError(jobID, label, errors.NewProcessingTimeoutError(jobID, limit, cause))
}

func ensureJobID(req *RecognizeRequest) string {
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	return req.JobID
}
