/**
 * HTTP surface for the OCR worker
 *
 * Per-engine extraction endpoints, the multi-engine endpoint, batch
 * extraction, health and Prometheus metrics, served with Fiber.
 */

package api

import (
	"context"
	stderrors "errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/observability"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

// ServerConfig holds HTTP settings
type ServerConfig struct {
	BodyLimitMB int
	MaxBatch    int
}

// QueueStatsFunc reports the state of one background consumer
type QueueStatsFunc func(ctx context.Context) (interface{}, error)

// Server is the HTTP API
type Server struct {
	app        *fiber.App
	processor  processor.OCRProcessorInterface
	metrics    *observability.Metrics
	logger     *logging.Logger
	config     ServerConfig
	queueStats map[string]QueueStatsFunc
}

// NewServer creates the Fiber app and registers every route
func NewServer(cfg ServerConfig, proc processor.OCRProcessorInterface, metrics *observability.Metrics, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewLogger("api")
	}
	if cfg.BodyLimitMB <= 0 {
		cfg.BodyLimitMB = 20
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 10
	}

	s := &Server{
		processor: proc,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "ocr-worker",
		BodyLimit:             cfg.BodyLimitMB * 1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})

	s.setupMiddlewares()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddlewares() {
	s.app.Use(requestid.New())
	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
	}))
	s.app.Use(s.metrics.MetricsMiddleware())
}

func (s *Server) setupRoutes() {
	s.app.Post("/extract-text-tesseract", s.handleTesseract)
	s.app.Post("/extract-text-easyocr-enhanced", s.handleSpanEnhanced)
	s.app.Post("/extract-text-easyocr", s.handleSpanStandard)
	s.app.Post("/extract-text", s.handleSeq2Seq)
	s.app.Post("/extract-text-multi-engine", s.handleMultiEngine)
	s.app.Post("/batch-extract", s.handleBatch)

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", s.metrics.Handler())
}

// AddQueueStats reports a consumer under /health. Call before Listen.
func (s *Server) AddQueueStats(name string, fn QueueStatsFunc) {
	if s.queueStats == nil {
		s.queueStats = make(map[string]QueueStatsFunc)
	}
	s.queueStats[name] = fn
}

// App exposes the Fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called
func (s *Server) Listen(addr string) error {
	s.logger.Info("HTTP server listening", "address", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler maps structured errors to HTTP status codes
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"
	var details map[string]interface{}

	var fe *fiber.Error
	var pe *errors.ProcessingError
	switch {
	case stderrors.As(err, &fe):
		code = fe.Code
		message = fe.Message
	case stderrors.As(err, &pe):
		code = statusForCode(pe.Code)
		message = pe.Message
		details = pe.ToMap()
		// a timeout wrapped by an engine failure is still a timeout
		if stderrors.Is(err, errors.ErrProcessingTimeout) {
			code = fiber.StatusGatewayTimeout
		}
	}

	if code >= 500 {
		s.logger.Error("Server error", "path", c.Path(), "status", code, "error", err)
	} else {
		s.logger.Warn("Request rejected", "path", c.Path(), "status", code, "error", err)
	}

	body := fiber.Map{
		"success": false,
		"detail":  message,
		"code":    code,
	}
	if details != nil {
		body["error"] = details
	}
	return c.Status(code).JSON(body)
}

func statusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrorDecodeFailed, errors.ErrorUnsupportedFormat, errors.ErrorBatchTooLarge:
		return fiber.StatusBadRequest
	case errors.ErrorEngineUnavailable:
		return fiber.StatusServiceUnavailable
	case errors.ErrorProcessingTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
