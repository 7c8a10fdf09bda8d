package engines

import (
	"context"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// Seq2SeqEngine adapts a vision encoder-decoder. It feeds the color path and
// needs no spatial reconstruction.
type Seq2SeqEngine struct {
	backend    Seq2SeqBackend
	normalizer *preprocess.Normalizer
	params     ocr.GenerationParams
}

// NewSeq2SeqEngine wraps a generation backend with the default decoding params
func NewSeq2SeqEngine(backend Seq2SeqBackend, normalizer *preprocess.Normalizer) *Seq2SeqEngine {
	return &Seq2SeqEngine{
		backend:    backend,
		normalizer: normalizer,
		params:     ocr.DefaultGenerationParams(),
	}
}

func (e *Seq2SeqEngine) Kind() ocr.EngineKind { return ocr.Seq2SeqVision }
func (e *Seq2SeqEngine) Name() string         { return e.backend.Name() }

// Recognize enhances the color image and decodes it to text
func (e *Seq2SeqEngine) Recognize(ctx context.Context, img *ocr.RasterImage) (ocr.RecognitionResult, error) {
	prepared, degraded := e.normalizer.EnhanceForSeq2Seq(img)
	if err := prepared.Validate(); err != nil {
		return ocr.RecognitionResult{}, errors.NewEngineExecutionError("", e.Kind().String(), err)
	}

	encoded, err := prepared.EncodePNG()
	if err != nil {
		return ocr.RecognitionResult{}, errors.NewEngineExecutionError("", e.Kind().String(), err)
	}

	decoded, err := e.backend.Generate(ctx, encoded, e.params)
	if err != nil {
		return ocr.RecognitionResult{}, errors.NewEngineExecutionError("", e.Kind().String(), err)
	}

	return ocr.NewRecognitionResult(ocr.Seq2SeqVision, strings.Join(strings.Fields(decoded), " "), map[string]interface{}{
		"model_used":    "TrOCR",
		"backend":       e.backend.Name(),
		"preprocessing": preprocessingLabel(degraded, PreprocessingColorEnhanced),
		"num_beams":     e.params.NumBeams,
		"max_length":    e.params.MaxLength,
	}), nil
}
