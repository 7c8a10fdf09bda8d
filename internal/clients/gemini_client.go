package clients

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

const transcribePrompt = "Transcribe all text visible in this image exactly as written. " +
	"Return only the text, without commentary, formatting or code fences."

// GeminiClient serves the sequence-to-sequence contract with a hosted vision
// model. Beam parameters have no Gemini equivalent; only the output length is
// forwarded.
type GeminiClient struct {
	client  *genai.Client
	model   string
	retries int
	backoff time.Duration
	logger  *logging.Logger
}

// NewGeminiClient creates the hosted client; it fails without an API key
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *logging.Logger) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	if logger == nil {
		logger = logging.NewLogger("gemini")
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  cl,
		model:   strings.TrimSpace(model),
		retries: 3,
		backoff: 300 * time.Millisecond,
		logger:  logger,
	}, nil
}

func (c *GeminiClient) Name() string { return "gemini " + c.model }

// Generate transcribes the image, retrying transient failures
func (c *GeminiClient) Generate(ctx context.Context, image []byte, params ocr.GenerationParams) (string, error) {
	m := c.client.GenerativeModel(c.model)
	m.SetTemperature(0)
	m.SetCandidateCount(1)
	if params.MaxLength > 0 {
		m.SetMaxOutputTokens(int32(params.MaxLength))
	}

	parts := []genai.Part{
		genai.Text(transcribePrompt),
		genai.Blob{MIMEType: http.DetectContentType(image), Data: image},
	}

	var text string
	err := c.withRetry(ctx, func() error {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			return err
		}
		text = stripCodeFences(firstText(resp))
		return nil
	})
	return text, err
}

// withRetry runs call up to c.retries times with linear backoff between
// attempts. Errors that cannot succeed on a retry end the loop at once.
func (c *GeminiClient) withRetry(ctx context.Context, call func() error) error {
	var lastErr error
	attempt := 0
	for attempt < c.retries {
		attempt++
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Warn("Gemini generation failed", "attempt", attempt, "error", err)
		if attempt == c.retries || !retryableGeminiError(err) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return fmt.Errorf("gemini generation failed after %d attempts: %w", attempt, lastErr)
}

// retryableGeminiError is false for rejected requests and bad credentials,
// which fail the same way on every attempt
func retryableGeminiError(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return false
		}
		return true
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied, codes.NotFound, codes.FailedPrecondition:
			return false
		}
	}
	return true
}

// Close releases the underlying connection
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
