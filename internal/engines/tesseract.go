package engines

import (
	"context"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// TesseractEngine is the block-text adapter: binarized input, one text blob
// out, whitespace normalized
type TesseractEngine struct {
	backend    TextBackend
	normalizer *preprocess.Normalizer
}

// NewTesseractEngine wraps a block-text backend
func NewTesseractEngine(backend TextBackend, normalizer *preprocess.Normalizer) *TesseractEngine {
	return &TesseractEngine{backend: backend, normalizer: normalizer}
}

func (e *TesseractEngine) Kind() ocr.EngineKind { return ocr.TesseractLike }
func (e *TesseractEngine) Name() string         { return e.backend.Name() }

// Recognize runs normalize → backend → whitespace cleanup
func (e *TesseractEngine) Recognize(ctx context.Context, img *ocr.RasterImage) (ocr.RecognitionResult, error) {
	prepared, degraded := e.normalizer.Normalize(img, ocr.TesseractLike)
	if prepared == nil {
		return ocr.RecognitionResult{}, errors.NewEngineExecutionError("", e.Kind().String(), img.Validate())
	}

	encoded, err := prepared.EncodePNG()
	if err != nil {
		return ocr.RecognitionResult{}, errors.NewEngineExecutionError("", e.Kind().String(), err)
	}

	raw, err := e.backend.Text(ctx, encoded)
	if err != nil {
		return ocr.RecognitionResult{}, errors.NewEngineExecutionError("", e.Kind().String(), err)
	}

	lines := nonEmptyLines(raw)
	return ocr.NewRecognitionResult(ocr.TesseractLike, strings.Join(lines, " "), map[string]interface{}{
		"model_used":    "Tesseract OCR",
		"backend":       e.backend.Name(),
		"preprocessing": preprocessingLabel(degraded, PreprocessingAdvanced),
		"lines_found":   len(lines),
	}), nil
}

// CollapseLines splits on line breaks, trims each line, drops empty lines and
// joins the rest with single spaces
func CollapseLines(raw string) string {
	return strings.Join(nonEmptyLines(raw), " ")
}

func nonEmptyLines(raw string) []string {
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if t := strings.TrimSpace(line); t != "" {
			kept = append(kept, t)
		}
	}
	return kept
}

func preprocessingLabel(degraded bool, ok string) string {
	if degraded {
		return PreprocessingFallback
	}
	return ok
}
