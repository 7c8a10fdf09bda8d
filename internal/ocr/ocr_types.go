/**
 * OCR Types - Shared data structures for recognition
 *
 * Common types used by the normalizer, every engine adapter, the reading-order
 * assembler and the orchestrator.
 */

package ocr

import (
	"strings"
	"unicode/utf8"
)

// EngineKind tags an adapter by output shape
type EngineKind int

const (
	// TesseractLike yields one monolithic text block
	TesseractLike EngineKind = iota
	// SpanDetector yields spans with geometry
	SpanDetector
	// Seq2SeqVision yields one decoded string
	Seq2SeqVision
)

// EngineOrder is the fixed iteration and tie-break order
var EngineOrder = []EngineKind{TesseractLike, SpanDetector, Seq2SeqVision}

// String returns the public engine label used in responses
func (k EngineKind) String() string {
	switch k {
	case TesseractLike:
		return "tesseract"
	case SpanDetector:
		return "easyocr"
	case Seq2SeqVision:
		return "trocr"
	default:
		return "unknown"
	}
}

// ParseEngineKind maps a public label back to its kind
func ParseEngineKind(label string) (EngineKind, bool) {
	for _, k := range EngineOrder {
		if k.String() == label {
			return k, true
		}
	}
	return 0, false
}

// NoEngine is the best-engine label when nothing produced text
const NoEngine = "none"

// Point is a corner of a span's bounding quadrilateral
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad is a bounding quadrilateral in traversal order
type Quad [4]Point

// Center returns the midpoint of corners 0 and 2
func (q Quad) Center() Point {
	return Point{
		X: (q[0].X + q[2].X) / 2,
		Y: (q[0].Y + q[2].Y) / 2,
	}
}

// RectQuad builds a quad from an axis-aligned rectangle
func RectQuad(x0, y0, x1, y1 float64) Quad {
	return Quad{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

// TextSpan is one recognized fragment with geometry
type TextSpan struct {
	Box        Quad    `json:"box"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// RecognitionResult is one engine's output for one request
type RecognitionResult struct {
	Engine    EngineKind             `json:"-"`
	Text      string                 `json:"text"`
	CharCount int                    `json:"char_count"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewRecognitionResult builds a result whose CharCount matches Text
func NewRecognitionResult(engine EngineKind, text string, metadata map[string]interface{}) RecognitionResult {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return RecognitionResult{
		Engine:    engine,
		Text:      text,
		CharCount: utf8.RuneCountInString(text),
		Metadata:  metadata,
	}
}

// WordCount splits on whitespace runs
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// QualityScore ranks text within one request: words*2 + chars*0.1
func QualityScore(text string) float64 {
	return float64(WordCount(text))*2 + float64(utf8.RuneCountInString(text))*0.1
}

// EngineAvailability records per-kind startup outcome
type EngineAvailability map[EngineKind]bool

// Labels returns availability keyed by public label
func (a EngineAvailability) Labels() map[string]bool {
	out := make(map[string]bool, len(EngineOrder))
	for _, k := range EngineOrder {
		out[k.String()] = a[k]
	}
	return out
}
