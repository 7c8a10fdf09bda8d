package engines

import (
	"context"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/layout"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// SpanEngine adapts a span detector. Enhanced mode preprocesses and assembles
// spans in reading order; standard mode sends the raw image and keeps the
// backend's order.
type SpanEngine struct {
	backend       SpanBackend
	normalizer    *preprocess.Normalizer
	assembler     *layout.Assembler
	mode          SpanMode
	minConfidence float64
}

// NewSpanEngine builds an adapter; spans at or below minConfidence are dropped
func NewSpanEngine(backend SpanBackend, normalizer *preprocess.Normalizer, assembler *layout.Assembler, mode SpanMode, minConfidence float64) *SpanEngine {
	return &SpanEngine{
		backend:       backend,
		normalizer:    normalizer,
		assembler:     assembler,
		mode:          mode,
		minConfidence: minConfidence,
	}
}

func (e *SpanEngine) Kind() ocr.EngineKind { return ocr.SpanDetector }
func (e *SpanEngine) Name() string         { return e.backend.Name() }
func (e *SpanEngine) Mode() SpanMode       { return e.mode }

// Recognize runs the detector and rebuilds text from surviving spans
func (e *SpanEngine) Recognize(ctx context.Context, img *ocr.RasterImage) (ocr.RecognitionResult, error) {
	input := img
	params := ocr.StandardSpanParams()
	preprocessing := PreprocessingNone

	if e.mode == SpanEnhanced {
		prepared, degraded := e.normalizer.Normalize(img, ocr.SpanDetector)
		input = prepared
		params = ocr.EnhancedSpanParams()
		preprocessing = preprocessingLabel(degraded, PreprocessingAdvanced)
	}
	if err := input.Validate(); err != nil {
		return ocr.RecognitionResult{}, errors.NewEngineExecutionError("", e.Kind().String(), err)
	}

	encoded, err := input.EncodePNG()
	if err != nil {
		return ocr.RecognitionResult{}, errors.NewEngineExecutionError("", e.Kind().String(), err)
	}

	spans, err := e.backend.DetectSpans(ctx, encoded, params)
	if err != nil {
		return ocr.RecognitionResult{}, errors.NewEngineExecutionError("", e.Kind().String(), err)
	}

	kept := FilterSpans(spans, e.minConfidence)

	var text string
	lines := 0
	if e.mode == SpanEnhanced {
		grouped := e.assembler.Lines(kept)
		lines = len(grouped)
		text = layout.JoinLines(grouped)
	} else {
		parts := make([]string, len(kept))
		for i, s := range kept {
			parts[i] = strings.TrimSpace(s.Text)
		}
		text = strings.Join(parts, " ")
	}

	model := "EasyOCR"
	if e.mode == SpanEnhanced {
		model = "EasyOCR Enhanced"
	}

	meta := map[string]interface{}{
		"model_used":    model,
		"backend":       e.backend.Name(),
		"mode":          e.mode.String(),
		"preprocessing": preprocessing,
		"blocks_found":  len(kept),
		"spans_dropped": len(spans) - len(kept),
	}
	if e.mode == SpanEnhanced {
		meta["lines_found"] = lines
	}
	return ocr.NewRecognitionResult(ocr.SpanDetector, text, meta), nil
}

// FilterSpans keeps spans with confidence above minConfidence and non-blank
// text, clamping confidence into [0,1]
func FilterSpans(spans []ocr.TextSpan, minConfidence float64) []ocr.TextSpan {
	kept := make([]ocr.TextSpan, 0, len(spans))
	for _, s := range spans {
		s.Confidence = clampUnit(s.Confidence)
		if s.Confidence <= minConfidence || strings.TrimSpace(s.Text) == "" {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
