/**
 * Sidecar Client - shared HTTP plumbing for model inference sidecars
 *
 * The span detector and the vision encoder-decoder run as separate Python
 * processes that hold the model weights. This worker talks to them over a
 * small JSON contract:
 * - POST <path> with a base64 image and decoding parameters
 * - GET /health returns 200 once weights are loaded
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// sidecarClient handles communication with one inference sidecar
type sidecarClient struct {
	service    string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// sidecarResponse is the envelope every sidecar reply shares
type sidecarResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (r sidecarResponse) envelope() sidecarResponse { return r }

func newSidecarClient(service, baseURL string, timeout time.Duration, logger *logging.Logger) sidecarClient {
	if timeout <= 0 {
		timeout = 120 * time.Second // model inference can take time
	}
	if logger == nil {
		logger = logging.NewLogger(service)
	}
	return sidecarClient{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// postJSON sends req and decodes the reply into out. out must embed
// sidecarResponse so the success flag can be checked.
func (c *sidecarClient) postJSON(ctx context.Context, path string, req interface{}, out interface{ envelope() sidecarResponse }) error {
	endpoint := c.baseURL + path

	// Marshal request
	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// Create HTTP request
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "ocr-worker")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	// Execute request
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.NewAPICallFailedError(c.service, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	// Read response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Check status code
	if resp.StatusCode != http.StatusOK {
		return errors.NewAPICallFailedError(c.service, resp.StatusCode,
			fmt.Errorf("%s returned error status %d: %s", c.service, resp.StatusCode, string(body)))
	}

	// Parse response
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if env := out.envelope(); !env.Success {
		return fmt.Errorf("%s operation failed: %s", c.service, env.Message)
	}

	return nil
}

// HealthCheck verifies the sidecar has its model loaded
func (c *sidecarClient) HealthCheck(ctx context.Context) error {
	endpoint := c.baseURL + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
