package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/adverant/nexus/ocr-worker/internal/engines"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

const healthStatsTimeout = 2 * time.Second

func (s *Server) handleTesseract(c *fiber.Ctx) error {
	return s.recognizeWith(c, ocr.TesseractLike, engines.SpanEnhanced)
}

func (s *Server) handleSpanEnhanced(c *fiber.Ctx) error {
	return s.recognizeWith(c, ocr.SpanDetector, engines.SpanEnhanced)
}

func (s *Server) handleSpanStandard(c *fiber.Ctx) error {
	return s.recognizeWith(c, ocr.SpanDetector, engines.SpanStandard)
}

func (s *Server) handleSeq2Seq(c *fiber.Ctx) error {
	return s.recognizeWith(c, ocr.Seq2SeqVision, engines.SpanEnhanced)
}

// recognizeWith serves the single-engine endpoints
func (s *Server) recognizeWith(c *fiber.Ctx, kind ocr.EngineKind, mode engines.SpanMode) error {
	req, err := s.readImage(c)
	if err != nil {
		return err
	}

	resp, err := s.processor.RecognizeWith(c.UserContext(), req, kind, mode)
	if err != nil {
		return err
	}

	body := fiber.Map{
		"success":            true,
		"job_id":             resp.JobID,
		"engine":             kind.String(),
		"extracted_text":     resp.Result.Text,
		"filename":           resp.Filename,
		"character_count":    resp.Result.CharCount,
		"processing_time_ms": resp.ProcessingTimeMs,
	}
	for k, v := range resp.Result.Metadata {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}
	return c.JSON(body)
}

func (s *Server) handleMultiEngine(c *fiber.Ctx) error {
	req, err := s.readImage(c)
	if err != nil {
		return err
	}

	res, err := s.processor.RecognizeBest(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(multiEngineBody(res))
}

// multiEngineBody shapes an orchestrated result: all_results carries the
// per-engine text, engine_details the full per-engine results
func multiEngineBody(res *processor.OrchestratedResult) fiber.Map {
	texts := make(map[string]string, len(res.Results))
	for label, r := range res.Results {
		texts[label] = r.Text
	}

	body := fiber.Map{
		"success":            true,
		"job_id":             res.JobID,
		"extracted_text":     res.BestText,
		"filename":           res.Filename,
		"model_used":         fmt.Sprintf("Multi-Engine (Best: %s)", res.BestEngine),
		"character_count":    res.CharCount,
		"all_results":        texts,
		"quality_scores":     res.Scores,
		"best_engine":        res.BestEngine,
		"available_engines":  res.Availability,
		"engine_details":     res.Results,
		"processing_time_ms": res.ProcessingTimeMs,
	}
	if len(res.Errors) > 0 {
		body["errors"] = res.Errors
	}
	return body
}

func (s *Server) handleBatch(c *fiber.Ctx) error {
	jobID, _ := c.Locals("requestid").(string)

	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Expected multipart form with files")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "No files provided")
	}
	if len(files) > s.config.MaxBatch {
		return errors.NewBatchTooLargeError(jobID, len(files), s.config.MaxBatch)
	}

	reqs := make([]*processor.RecognizeRequest, len(files))
	for i, fh := range files {
		req, err := readFileHeader(fh)
		if err != nil {
			return err
		}
		reqs[i] = req
	}

	res, err := s.processor.RecognizeBatch(c.UserContext(), jobID, reqs)
	if err != nil {
		return err
	}

	results := make([]fiber.Map, len(res.Items))
	for i, item := range res.Items {
		if !item.Success {
			results[i] = fiber.Map{"success": false, "filename": item.Filename, "error": item.Error}
			continue
		}
		results[i] = multiEngineBody(item.Result)
	}

	return c.JSON(fiber.Map{
		"success":            true,
		"job_id":             res.JobID,
		"total":              res.Total,
		"succeeded":          res.Succeeded,
		"failed":             res.Failed,
		"results":            results,
		"processing_time_ms": res.ProcessingTimeMs,
	})
}

// healthResponse adds consumer state to the engine report
type healthResponse struct {
	*processor.HealthReport
	Queues map[string]interface{} `json:"queues,omitempty"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := healthResponse{HealthReport: s.processor.Health()}
	if len(s.queueStats) == 0 {
		return c.JSON(resp)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), healthStatsTimeout)
	defer cancel()

	resp.Queues = make(map[string]interface{}, len(s.queueStats))
	for name, fn := range s.queueStats {
		stats, err := fn(ctx)
		if err != nil {
			s.logger.Warn("Queue stats unavailable", "queue", name, "error", err)
			resp.Queues[name] = fiber.Map{"error": err.Error()}
			continue
		}
		resp.Queues[name] = stats
	}
	return c.JSON(resp)
}

// readImage loads the "file" multipart field and validates its content type
func (s *Server) readImage(c *fiber.Ctx) (*processor.RecognizeRequest, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Missing multipart field 'file'")
	}
	req, err := readFileHeader(fh)
	if err != nil {
		return nil, err
	}
	req.JobID, _ = c.Locals("requestid").(string)
	return req, nil
}

func readFileHeader(fh *multipart.FileHeader) (*processor.RecognizeRequest, error) {
	contentType := fh.Header.Get("Content-Type")
	if !processor.IsImageMimeType(contentType) {
		return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("File must be an image: %s", fh.Filename))
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Unable to read uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Unable to read uploaded file")
	}

	return &processor.RecognizeRequest{
		Filename: fh.Filename,
		MimeType: processor.ResolveMimeType(contentType, data),
		Image:    data,
	}, nil
}
