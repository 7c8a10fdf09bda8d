package engines

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/clients"
	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/layout"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// healthChecker is implemented by sidecar clients
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Bootstrap initializes every configured backend once and freezes the
// outcome. A backend that fails here stays unavailable for the process
// lifetime; startup itself never fails.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewLogger("engines")
	}

	normalizer := preprocess.NewNormalizer(preprocess.DefaultOptions(), logger.With("stage", "preprocess"))
	assembler := layout.NewAssembler(cfg.Layout.LineThreshold)
	reasons := map[ocr.EngineKind]string{}
	var rc RegistryConfig

	// Step 1: block-text engine
	if !cfg.Engines.Tesseract.Enabled {
		reasons[ocr.TesseractLike] = "disabled by configuration"
	} else if backend, err := NewGosseractBackend(cfg.Engines.Tesseract.Languages); err != nil {
		logger.Warn("Tesseract engine unavailable", "error", err)
		reasons[ocr.TesseractLike] = err.Error()
	} else {
		rc.Tesseract = NewTesseractEngine(backend, normalizer)
		logger.Info("Tesseract engine loaded", "backend", backend.Name())
	}

	// Step 2: span detector, both modes share one backend
	if !cfg.Engines.Span.Enabled {
		reasons[ocr.SpanDetector] = "disabled by configuration"
	} else if backend, err := newSpanBackend(ctx, cfg); err != nil {
		logger.Warn("Span detector unavailable", "backend", cfg.Engines.Span.Backend, "error", err)
		reasons[ocr.SpanDetector] = err.Error()
	} else {
		rc.Span = NewSpanEngine(backend, normalizer, assembler, SpanEnhanced, cfg.Engines.Span.EnhancedMinConfidence)
		rc.SpanStandard = NewSpanEngine(backend, normalizer, assembler, SpanStandard, cfg.Engines.Span.StandardMinConfidence)
		logger.Info("Span detector loaded", "backend", backend.Name())
	}

	// Step 3: sequence-to-sequence vision engine
	if !cfg.Engines.Seq2Seq.Enabled {
		reasons[ocr.Seq2SeqVision] = "disabled by configuration"
	} else if backend, err := newSeq2SeqBackend(ctx, cfg); err != nil {
		logger.Warn("Seq2Seq engine unavailable", "backend", cfg.Engines.Seq2Seq.Backend, "error", err)
		reasons[ocr.Seq2SeqVision] = err.Error()
	} else {
		rc.Seq2Seq = NewSeq2SeqEngine(backend, normalizer)
		logger.Info("Seq2Seq engine loaded", "backend", backend.Name())
	}

	rc.Reasons = reasons
	registry := NewRegistry(rc)
	logger.Info("Engine registry ready", "available", registry.Availability().Labels())
	return registry
}

func newSpanBackend(ctx context.Context, cfg *config.Config) (SpanBackend, error) {
	switch cfg.Engines.Span.Backend {
	case "tesseract":
		return NewGosseractBackend(cfg.Engines.Tesseract.Languages)
	case "sidecar":
		c := clients.NewSpanDetectorClient(cfg.Engines.Span.URL, cfg.Engines.Span.Languages, cfg.Engines.Timeout, logging.NewLogger("span-detector"))
		if err := checkHealth(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown span backend %q", cfg.Engines.Span.Backend)
	}
}

func newSeq2SeqBackend(ctx context.Context, cfg *config.Config) (Seq2SeqBackend, error) {
	switch cfg.Engines.Seq2Seq.Backend {
	case "gemini":
		return clients.NewGeminiClient(ctx, cfg.Engines.Seq2Seq.GeminiAPIKey, cfg.Engines.Seq2Seq.GeminiModel, logging.NewLogger("gemini"))
	case "sidecar":
		c := clients.NewSeq2SeqClient(cfg.Engines.Seq2Seq.URL, cfg.Engines.Seq2Seq.Model, cfg.Engines.Timeout, logging.NewLogger("seq2seq"))
		if err := checkHealth(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown seq2seq backend %q", cfg.Engines.Seq2Seq.Backend)
	}
}

func checkHealth(ctx context.Context, c healthChecker) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.HealthCheck(healthCtx)
}
