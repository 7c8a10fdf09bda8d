package processor

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
)

// BatchItem is the outcome for one image of a batch
type BatchItem struct {
	Index    int                 `json:"index"`
	Filename string              `json:"filename,omitempty"`
	Success  bool                `json:"success"`
	Result   *OrchestratedResult `json:"result,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// BatchResult is the batch response
type BatchResult struct {
	JobID            string      `json:"job_id"`
	Total            int         `json:"total"`
	Succeeded        int         `json:"succeeded"`
	Failed           int         `json:"failed"`
	Items            []BatchItem `json:"results"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
}

// RecognizeBatch runs RecognizeBest for each image. Oversized batches are
// rejected before any work starts; admitted items pass through the shared
// gate so at most MaxConcurrent run at once across all batches.
func (p *OCRProcessor) RecognizeBatch(ctx context.Context, jobID string, reqs []*RecognizeRequest) (*BatchResult, error) {
	startTime := time.Now()
	if jobID == "" {
		jobID = ensureJobID(&RecognizeRequest{})
	}

	if len(reqs) > p.config.MaxBatch {
		p.metrics.RecordBatchRejected()
		p.logger.Warn("Batch rejected", "jobId", jobID, "size", len(reqs), "limit", p.config.MaxBatch)
		return nil, errors.NewBatchTooLargeError(jobID, len(reqs), p.config.MaxBatch)
	}

	p.logger.Info("Batch started", "jobId", jobID, "size", len(reqs), "maxConcurrent", p.config.MaxConcurrent)

	items := make([]BatchItem, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		i, req := i, req
		if req == nil {
			items[i] = BatchItem{Index: i, Error: "missing image"}
			continue
		}
		items[i] = BatchItem{Index: i, Filename: req.Filename}
		if req.JobID == "" {
			req.JobID = jobID + "-" + strconv.Itoa(i)
		}

		g.Go(func() error {
			if err := p.gate.Acquire(ctx, 1); err != nil {
				items[i].Error = err.Error()
				return nil
			}
			p.metrics.BatchItemStarted()
			defer func() {
				p.metrics.BatchItemFinished()
				p.gate.Release(1)
			}()

			res, err := p.RecognizeBest(ctx, req)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Success = true
			items[i].Result = res
			return nil
		})
	}
	_ = g.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		p.logger.Warn("Batch context ended before all items finished", "jobId", jobID, "error", ctxErr)
		return nil, errors.NewProcessingTimeoutError(jobID, time.Since(startTime), ctxErr)
	}

	result := &BatchResult{
		JobID: jobID,
		Total: len(reqs),
		Items: items,
	}
	for _, it := range items {
		if it.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	p.logger.Info("Batch finished",
		"jobId", jobID,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"processingTimeMs", result.ProcessingTimeMs)
	return result, nil
}
