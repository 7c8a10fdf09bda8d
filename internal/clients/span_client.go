package clients

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// SpanDetectorClient talks to an EasyOCR-compatible readtext sidecar
type SpanDetectorClient struct {
	sidecarClient
	languages []string
}

// ReadTextRequest asks the sidecar for spans with geometry
type ReadTextRequest struct {
	Image     string   `json:"image"` // Base64 encoded image
	Format    string   `json:"format"`
	Languages []string `json:"languages,omitempty"`
	ocr.SpanParams
}

// ReadTextResponse carries spans in the detector's native order
type ReadTextResponse struct {
	sidecarResponse
	Results []ReadTextSpan `json:"results"`
}

// ReadTextSpan is one detection: four [x, y] corners, text and confidence
type ReadTextSpan struct {
	Box        [][]float64 `json:"box"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
}

// NewSpanDetectorClient creates a client; languages is "+"-separated
func NewSpanDetectorClient(baseURL, languages string, timeout time.Duration, logger *logging.Logger) *SpanDetectorClient {
	var langs []string
	for _, l := range strings.Split(languages, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return &SpanDetectorClient{
		sidecarClient: newSidecarClient("span-detector", baseURL, timeout, logger),
		languages:     langs,
	}
}

func (c *SpanDetectorClient) Name() string {
	return "easyocr sidecar at " + c.baseURL
}

// DetectSpans posts the image to /readtext
func (c *SpanDetectorClient) DetectSpans(ctx context.Context, image []byte, params ocr.SpanParams) ([]ocr.TextSpan, error) {
	c.logger.Debug("Requesting spans from detector",
		"decoder", params.Decoder,
		"imageSize", len(image))

	var resp ReadTextResponse
	err := c.postJSON(ctx, "/readtext", &ReadTextRequest{
		Image:      base64.StdEncoding.EncodeToString(image),
		Format:     "base64",
		Languages:  c.languages,
		SpanParams: params,
	}, &resp)
	if err != nil {
		return nil, err
	}

	spans := make([]ocr.TextSpan, 0, len(resp.Results))
	for i, r := range resp.Results {
		quad, err := toQuad(r.Box)
		if err != nil {
			return nil, fmt.Errorf("span %d: %w", i, err)
		}
		spans = append(spans, ocr.TextSpan{Box: quad, Text: r.Text, Confidence: r.Confidence})
	}

	c.logger.Debug("Span detection complete", "spans", len(spans))
	return spans, nil
}

func toQuad(box [][]float64) (ocr.Quad, error) {
	var q ocr.Quad
	if len(box) != 4 {
		return q, fmt.Errorf("bounding box has %d corners, want 4", len(box))
	}
	for i, p := range box {
		if len(p) != 2 {
			return q, fmt.Errorf("corner %d has %d coordinates, want 2", i, len(p))
		}
		q[i] = ocr.Point{X: p[0], Y: p[1]}
	}
	return q, nil
}
