package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/engines"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/observability"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

type stubEngine struct {
	kind  ocr.EngineKind
	text  string
	err   error
	meta  map[string]interface{}
	delay time.Duration
}

func (e *stubEngine) Kind() ocr.EngineKind { return e.kind }
func (e *stubEngine) Name() string         { return "stub-" + e.kind.String() }
func (e *stubEngine) Recognize(ctx context.Context, img *ocr.RasterImage) (ocr.RecognitionResult, error) {
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return ocr.RecognitionResult{}, ctx.Err()
		case <-time.After(e.delay):
		}
	}
	if e.err != nil {
		return ocr.RecognitionResult{}, e.err
	}
	return ocr.NewRecognitionResult(e.kind, e.text, e.meta), nil
}

type upload struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 6, 6))))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path string, uploads ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, u := range uploads {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, u.field, u.filename))
		h.Set("Content-Type", u.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newTestServer(t *testing.T, rc engines.RegistryConfig) *Server {
	t.Helper()
	metrics := observability.NewMetrics()
	proc, err := processor.NewOCRProcessor(&processor.ProcessorConfig{
		Registry:      engines.NewRegistry(rc),
		EngineTimeout: time.Second,
		MaxBatch:      3,
		MaxConcurrent: 2,
		Metrics:       metrics,
		Logger:        logging.NewLoggerTo("processor", io.Discard),
	})
	require.NoError(t, err)
	return NewServer(ServerConfig{BodyLimitMB: 5, MaxBatch: 3}, proc, metrics, logging.NewLoggerTo("api", io.Discard))
}

func doJSON(t *testing.T, s *Server, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func defaultEngines() engines.RegistryConfig {
	return engines.RegistryConfig{
		Tesseract: &stubEngine{kind: ocr.TesseractLike, text: "hello world", meta: map[string]interface{}{
			"model_used": "Tesseract OCR", "preprocessing": "advanced",
		}},
		Span: &stubEngine{kind: ocr.SpanDetector, text: "hello", meta: map[string]interface{}{
			"model_used": "EasyOCR Enhanced", "blocks_found": 1,
		}},
		SpanStandard: &stubEngine{kind: ocr.SpanDetector, text: "hello standard", meta: map[string]interface{}{
			"model_used": "EasyOCR",
		}},
		Reasons: map[ocr.EngineKind]string{ocr.Seq2SeqVision: "sidecar unreachable"},
	}
}

func TestExtractTextTesseract(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	status, body := doJSON(t, s, multipartRequest(t, "/extract-text-tesseract",
		upload{"file", "scan.png", "image/png", pngData(t)}))

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "hello world", body["extracted_text"])
	assert.Equal(t, "scan.png", body["filename"])
	assert.Equal(t, "Tesseract OCR", body["model_used"])
	assert.Equal(t, float64(11), body["character_count"])
	assert.Equal(t, "advanced", body["preprocessing"])
	assert.NotEmpty(t, body["job_id"])
}

func TestExtractTextEasyOCRModes(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	_, body := doJSON(t, s, multipartRequest(t, "/extract-text-easyocr-enhanced",
		upload{"file", "a.png", "image/png", pngData(t)}))
	assert.Equal(t, "hello", body["extracted_text"])
	assert.Equal(t, float64(1), body["blocks_found"])

	_, body = doJSON(t, s, multipartRequest(t, "/extract-text-easyocr",
		upload{"file", "a.png", "image/png", pngData(t)}))
	assert.Equal(t, "hello standard", body["extracted_text"])
	assert.Equal(t, "EasyOCR", body["model_used"])
}

func TestExtractText_UnavailableEngineIs503(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	status, body := doJSON(t, s, multipartRequest(t, "/extract-text",
		upload{"file", "a.png", "image/png", pngData(t)}))

	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["detail"], "trocr")
}

func TestExtractText_RejectsNonImage(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	status, body := doJSON(t, s, multipartRequest(t, "/extract-text-tesseract",
		upload{"file", "notes.txt", "text/plain", []byte("hello")}))

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["detail"], "File must be an image")
}

func TestExtractText_MissingFile(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	status, body := doJSON(t, s, multipartRequest(t, "/extract-text-tesseract",
		upload{"other", "a.png", "image/png", pngData(t)}))

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["detail"], "'file'")
}

func TestExtractText_UndecodableImageIs400(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	status, body := doJSON(t, s, multipartRequest(t, "/extract-text-multi-engine",
		upload{"file", "broken.png", "image/png", []byte("not really a png")}))

	assert.Equal(t, http.StatusBadRequest, status)
	errBody, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "DECODE_FAILED", errBody["error_code"])
}

func TestExtractText_EngineFailureIs500(t *testing.T) {
	rc := defaultEngines()
	rc.Tesseract = &stubEngine{kind: ocr.TesseractLike, err: fmt.Errorf("segfault")}
	s := newTestServer(t, rc)

	status, body := doJSON(t, s, multipartRequest(t, "/extract-text-tesseract",
		upload{"file", "a.png", "image/png", pngData(t)}))

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, false, body["success"])
}

func TestMultiEngine(t *testing.T) {
	rc := defaultEngines()
	rc.Span = &stubEngine{kind: ocr.SpanDetector, err: fmt.Errorf("sidecar 502")}
	s := newTestServer(t, rc)

	status, body := doJSON(t, s, multipartRequest(t, "/extract-text-multi-engine",
		upload{"file", "page.jpg", "image/jpeg", pngData(t)}))

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "tesseract", body["best_engine"])
	assert.Equal(t, "hello world", body["extracted_text"])
	assert.Equal(t, "Multi-Engine (Best: tesseract)", body["model_used"])
	assert.Equal(t, map[string]interface{}{"tesseract": "hello world", "easyocr": ""}, body["all_results"])
	assert.Equal(t, map[string]interface{}{"tesseract": true, "easyocr": true, "trocr": false}, body["available_engines"])

	scores := body["quality_scores"].(map[string]interface{})
	assert.InDelta(t, 5.1, scores["tesseract"], 1e-9)
	assert.Equal(t, 0.0, scores["easyocr"])

	errs := body["errors"].(map[string]interface{})
	assert.Contains(t, errs["easyocr"], "sidecar 502")
}

func TestMultiEngine_NoEngines(t *testing.T) {
	s := newTestServer(t, engines.RegistryConfig{})

	status, body := doJSON(t, s, multipartRequest(t, "/extract-text-multi-engine",
		upload{"file", "a.png", "image/png", pngData(t)}))

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "none", body["best_engine"])
	assert.Equal(t, processor.NoTextMessage, body["extracted_text"])
}

func TestBatchExtract(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	status, body := doJSON(t, s, multipartRequest(t, "/batch-extract",
		upload{"files", "a.png", "image/png", pngData(t)},
		upload{"files", "b.png", "image/png", []byte("garbage")},
	))

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["succeeded"])

	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "tesseract", first["best_engine"])
	second := results[1].(map[string]interface{})
	assert.Equal(t, false, second["success"])
	assert.Equal(t, "b.png", second["filename"])
}

func TestBatchExtract_TooMany(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	var uploads []upload
	for i := 0; i < 4; i++ {
		uploads = append(uploads, upload{"files", fmt.Sprintf("%d.png", i), "image/png", pngData(t)})
	}
	status, body := doJSON(t, s, multipartRequest(t, "/batch-extract", uploads...))

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Maximum 3 images per batch, got 4", body["detail"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	status, body := doJSON(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"tesseract": true, "easyocr": true, "trocr": false}, body["models_loaded"])

	details := body["engines"].(map[string]interface{})
	assert.Equal(t, "unavailable: sidecar unreachable", details["trocr"])
	assert.NotContains(t, body, "queues")
}

func TestHealth_QueueStats(t *testing.T) {
	s := newTestServer(t, defaultEngines())
	s.AddQueueStats("redis", func(ctx context.Context) (interface{}, error) {
		return map[string]int64{"waiting": 3, "failed": 1}, nil
	})
	s.AddQueueStats("asynq", func(ctx context.Context) (interface{}, error) {
		return nil, fmt.Errorf("dial tcp: connection refused")
	})

	status, body := doJSON(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	queues, ok := body["queues"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"waiting": float64(3), "failed": float64(1)}, queues["redis"])
	assert.Equal(t, map[string]interface{}{"error": "dial tcp: connection refused"}, queues["asynq"])
}

func TestExtractText_EngineTimeoutIs504(t *testing.T) {
	rc := defaultEngines()
	rc.Tesseract = &stubEngine{kind: ocr.TesseractLike, text: "late", delay: 5 * time.Second}
	s := newTestServer(t, rc)

	status, body := doJSON(t, s, multipartRequest(t, "/extract-text-tesseract",
		upload{"file", "a.png", "image/png", pngData(t)}))

	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, false, body["success"])
}

func TestExtractText_PDFIsUnsupported(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	status, body := doJSON(t, s, multipartRequest(t, "/extract-text-multi-engine",
		upload{"file", "scan.png", "image/png", []byte("%PDF-1.7 pages")}))

	assert.Equal(t, http.StatusBadRequest, status)
	errBody, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "UNSUPPORTED_FORMAT", errBody["error_code"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, defaultEngines())

	_, _ = doJSON(t, s, multipartRequest(t, "/extract-text-multi-engine",
		upload{"file", "a.png", "image/png", pngData(t)}))

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(data), `ocr_engine_selections_total{engine="tesseract"} 1`)
	assert.Contains(t, string(data), `ocr_engine_available{engine="trocr"} 0`)
}

func TestStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, statusForCode("PROCESSING_TIMEOUT"))
	assert.Equal(t, http.StatusInternalServerError, statusForCode("API_CALL_FAILED"))
}
