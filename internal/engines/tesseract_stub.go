//go:build !cgo || !ocr

package engines

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// GosseractBackend is unavailable in builds without cgo and the ocr tag
type GosseractBackend struct{}

var errTesseractNotCompiled = fmt.Errorf("tesseract support not compiled in (build with CGO_ENABLED=1 -tags ocr)")

// NewGosseractBackend always fails in this build
func NewGosseractBackend(languages string) (*GosseractBackend, error) {
	return nil, errTesseractNotCompiled
}

func (b *GosseractBackend) Name() string { return "gosseract (not compiled)" }

func (b *GosseractBackend) Text(ctx context.Context, image []byte) (string, error) {
	return "", errTesseractNotCompiled
}

func (b *GosseractBackend) DetectSpans(ctx context.Context, image []byte, params ocr.SpanParams) ([]ocr.TextSpan, error) {
	return nil, errTesseractNotCompiled
}
