//go:build cgo && ocr

package engines

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// GosseractBackend drives libtesseract in-process. A fresh client is created
// per call because gosseract clients are not safe for concurrent use.
type GosseractBackend struct {
	languages []string
}

// NewGosseractBackend verifies libtesseract can be initialized
func NewGosseractBackend(languages string) (*GosseractBackend, error) {
	b := &GosseractBackend{languages: splitLanguages(languages)}

	client := gosseract.NewClient()
	defer client.Close()
	if len(b.languages) > 0 {
		if err := client.SetLanguage(b.languages...); err != nil {
			return nil, fmt.Errorf("failed to set tesseract languages: %w", err)
		}
	}
	if gosseract.Version() == "" {
		return nil, fmt.Errorf("libtesseract did not report a version")
	}
	return b, nil
}

func (b *GosseractBackend) Name() string {
	return "gosseract/tesseract " + gosseract.Version()
}

// Text runs PSM 6 (uniform block of text) with the default engine mode
func (b *GosseractBackend) Text(ctx context.Context, image []byte) (string, error) {
	client, err := b.client(image)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract text extraction failed: %w", err)
	}
	return text, nil
}

// DetectSpans returns word boxes; tesseract confidences are rescaled to [0,1].
// Detector params other than geometry are not applicable to tesseract.
func (b *GosseractBackend) DetectSpans(ctx context.Context, image []byte, params ocr.SpanParams) ([]ocr.TextSpan, error) {
	client, err := b.client(image)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract word boxes failed: %w", err)
	}

	spans := make([]ocr.TextSpan, 0, len(boxes))
	for _, box := range boxes {
		r := box.Box
		spans = append(spans, ocr.TextSpan{
			Box:        ocr.RectQuad(float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)),
			Text:       box.Word,
			Confidence: box.Confidence / 100,
		})
	}
	return spans, nil
}

func (b *GosseractBackend) client(image []byte) (*gosseract.Client, error) {
	client := gosseract.NewClient()
	if len(b.languages) > 0 {
		if err := client.SetLanguage(b.languages...); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set tesseract languages: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	return client, nil
}

func splitLanguages(languages string) []string {
	var out []string
	for _, l := range strings.Split(languages, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
