package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("orchestrator", &buf)

	l.Warn("engine failed", "engine", "tesseract", "error", fmt.Errorf("boom"), "score", 5.1)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "orchestrator", line["component"])
	assert.Equal(t, "engine failed", line["message"])
	assert.Equal(t, "tesseract", line["engine"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, 5.1, line["score"])
}

func TestLogger_DropsDanglingKey(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("api", &buf)

	l.Info("request", "path", "/health", "orphan")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "/health", line["path"])
	_, ok := line["orphan"]
	assert.False(t, ok)
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("queue", &buf).With("job_id", "job-42")

	l.Error("task failed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "job-42", line["job_id"])
	assert.Equal(t, "error", line["level"])
}
