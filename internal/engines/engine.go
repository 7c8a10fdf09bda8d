package engines

import (
	"context"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// Engine is the uniform recognition contract. Implementations receive their
// own raster and must not retain it after returning.
type Engine interface {
	Kind() ocr.EngineKind
	Name() string
	Recognize(ctx context.Context, img *ocr.RasterImage) (ocr.RecognitionResult, error)
}

// TextBackend produces one block of text from an encoded image
type TextBackend interface {
	Name() string
	Text(ctx context.Context, image []byte) (string, error)
}

// SpanBackend produces spans with geometry from an encoded image
type SpanBackend interface {
	Name() string
	DetectSpans(ctx context.Context, image []byte, params ocr.SpanParams) ([]ocr.TextSpan, error)
}

// Seq2SeqBackend decodes an encoded image into one string
type Seq2SeqBackend interface {
	Name() string
	Generate(ctx context.Context, image []byte, params ocr.GenerationParams) (string, error)
}

// SpanMode selects the span detector behavior
type SpanMode int

const (
	// SpanEnhanced preprocesses, uses accuracy-favoring decoding and
	// assembles spans in reading order
	SpanEnhanced SpanMode = iota
	// SpanStandard sends the raw image and joins spans in backend order
	SpanStandard
)

func (m SpanMode) String() string {
	if m == SpanStandard {
		return "standard"
	}
	return "enhanced"
}

// ParseSpanMode accepts "enhanced" or "standard"
func ParseSpanMode(s string) (SpanMode, bool) {
	switch s {
	case "", "enhanced":
		return SpanEnhanced, true
	case "standard":
		return SpanStandard, true
	default:
		return 0, false
	}
}

// Preprocessing labels reported in result metadata
const (
	PreprocessingAdvanced      = "advanced"
	PreprocessingColorEnhanced = "color-enhanced"
	PreprocessingFallback      = "grayscale-fallback"
	PreprocessingNone          = "none"
)
