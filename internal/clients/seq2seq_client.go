package clients

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// Seq2SeqClient talks to a vision encoder-decoder (TrOCR-style) sidecar
type Seq2SeqClient struct {
	sidecarClient
	model string
}

// GenerateRequest asks the sidecar to decode one image
type GenerateRequest struct {
	Image  string `json:"image"` // Base64 encoded image
	Format string `json:"format"`
	Model  string `json:"model,omitempty"`
	ocr.GenerationParams
}

// GenerateResponse carries the decoded string
type GenerateResponse struct {
	sidecarResponse
	Text  string `json:"text"`
	Model string `json:"model"`
}

// NewSeq2SeqClient creates a client for the given model id
func NewSeq2SeqClient(baseURL, model string, timeout time.Duration, logger *logging.Logger) *Seq2SeqClient {
	return &Seq2SeqClient{
		sidecarClient: newSidecarClient("seq2seq", baseURL, timeout, logger),
		model:         model,
	}
}

func (c *Seq2SeqClient) Name() string {
	return c.model + " sidecar at " + c.baseURL
}

// Generate posts the image to /generate
func (c *Seq2SeqClient) Generate(ctx context.Context, image []byte, params ocr.GenerationParams) (string, error) {
	c.logger.Debug("Requesting generation",
		"model", c.model,
		"numBeams", params.NumBeams,
		"imageSize", len(image))

	var resp GenerateResponse
	err := c.postJSON(ctx, "/generate", &GenerateRequest{
		Image:            base64.StdEncoding.EncodeToString(image),
		Format:           "base64",
		Model:            c.model,
		GenerationParams: params,
	}, &resp)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Generation complete", "textLength", len(resp.Text))
	return resp.Text, nil
}
