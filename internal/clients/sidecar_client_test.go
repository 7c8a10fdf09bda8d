package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

func quietLogger() *logging.Logger {
	return logging.NewLoggerTo("clients-test", io.Discard)
}

func TestSpanDetectorClient_DetectSpans(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readtext", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"success":true,"results":[
			{"box":[[0,0],[40,0],[40,20],[0,20]],"text":"hello","confidence":0.91},
			{"box":[[50,0],[90,0],[90,20],[50,20]],"text":"world","confidence":0.15}
		]}`))
	}))
	defer srv.Close()

	c := NewSpanDetectorClient(srv.URL+"/", "en+de", time.Second, quietLogger())
	spans, err := c.DetectSpans(context.Background(), []byte("png-bytes"), ocr.EnhancedSpanParams())
	require.NoError(t, err)

	require.Len(t, spans, 2)
	assert.Equal(t, "hello", spans[0].Text)
	assert.Equal(t, ocr.Point{X: 20, Y: 10}, spans[0].Box.Center())
	assert.Equal(t, 0.15, spans[1].Confidence)

	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), got["image"])
	assert.Equal(t, "beamsearch", got["decoder"])
	assert.Equal(t, 0.7, got["width_ths"])
	assert.Equal(t, 0.7, got["height_ths"])
	assert.Equal(t, false, got["paragraph"])
	assert.Equal(t, []interface{}{"en", "de"}, got["languages"])
}

func TestSpanDetectorClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http error", http.StatusInternalServerError, `model crashed`, "returned error status 500"},
		{"success false", http.StatusOK, `{"success":false,"message":"CUDA OOM"}`, "CUDA OOM"},
		{"bad json", http.StatusOK, `{"success":`, "failed to parse response"},
		{"three corners", http.StatusOK, `{"success":true,"results":[{"box":[[0,0],[1,0],[1,1]],"text":"x","confidence":1}]}`, "has 3 corners"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewSpanDetectorClient(srv.URL, "en", time.Second, quietLogger())
			_, err := c.DetectSpans(context.Background(), []byte("x"), ocr.StandardSpanParams())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSpanDetectorClient_StatusErrorIsAPICallFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewSpanDetectorClient(srv.URL, "en", time.Second, quietLogger())
	_, err := c.DetectSpans(context.Background(), []byte("x"), ocr.StandardSpanParams())
	assert.True(t, stderrors.Is(err, errors.ErrAPICallFailed))
}

func TestSeq2SeqClient_Generate(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"text":"TOTAL 42.00","model":"microsoft/trocr-base-printed"}`))
	}))
	defer srv.Close()

	c := NewSeq2SeqClient(srv.URL, "microsoft/trocr-base-printed", time.Second, quietLogger())
	text, err := c.Generate(context.Background(), []byte("img"), ocr.DefaultGenerationParams())
	require.NoError(t, err)

	assert.Equal(t, "TOTAL 42.00", text)
	assert.Equal(t, float64(5), got["num_beams"])
	assert.Equal(t, float64(256), got["max_length"])
	assert.Equal(t, true, got["early_stopping"])
	assert.Equal(t, false, got["do_sample"])
	assert.Equal(t, 1.1, got["repetition_penalty"])
	assert.Equal(t, 1.0, got["length_penalty"])
	assert.Equal(t, "microsoft/trocr-base-printed", got["model"])
}

func TestSidecar_HealthCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("loading weights"))
		}
	}))
	defer srv.Close()

	c := NewSeq2SeqClient(srv.URL, "m", time.Second, quietLogger())
	assert.NoError(t, c.HealthCheck(context.Background()))

	healthy.Store(false)
	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503: loading weights")
}

func TestSidecar_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewSeq2SeqClient(srv.URL, "m", 10*time.Second, quietLogger())
	_, err := c.Generate(ctx, []byte("img"), ocr.DefaultGenerationParams())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "  ", "gemini-1.5-flash", quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is empty")
}

func TestGeminiHelpers(t *testing.T) {
	assert.Equal(t, "plain", stripCodeFences("  plain \n"))
	assert.Equal(t, "line one\nline two", stripCodeFences("```text\nline one\nline two\n```"))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("INVOICE "), genai.Text("#7")}}},
		},
	}
	assert.Equal(t, "INVOICE #7", firstText(resp))
	assert.Equal(t, "", firstText(nil))
}
