package clients

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func testGeminiClient(backoff time.Duration) *GeminiClient {
	return &GeminiClient{model: "gemini-test", retries: 3, backoff: backoff, logger: quietLogger()}
}

func TestRetryableGeminiError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid api key", &googleapi.Error{Code: http.StatusBadRequest, Message: "API key not valid"}, false},
		{"unauthorized", fmt.Errorf("call: %w", &googleapi.Error{Code: http.StatusUnauthorized}), false},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, false},
		{"unknown model", &googleapi.Error{Code: http.StatusNotFound}, false},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"server error", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"grpc unauthenticated", status.Error(codes.Unauthenticated, "bad key"), false},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad image"), false},
		{"grpc unavailable", status.Error(codes.Unavailable, "try later"), true},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), false},
		{"plain network error", fmt.Errorf("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryableGeminiError(tt.err))
		})
	}
}

func TestGeminiWithRetry_StopsOnPermanentError(t *testing.T) {
	c := testGeminiClient(time.Second)
	calls := 0

	start := time.Now()
	err := c.withRetry(context.Background(), func() error {
		calls++
		return &googleapi.Error{Code: http.StatusBadRequest, Message: "API key not valid"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Contains(t, err.Error(), "after 1 attempts")

	var apiErr *googleapi.Error
	assert.True(t, stderrors.As(err, &apiErr))
}

func TestGeminiWithRetry_NoSleepAfterLastAttempt(t *testing.T) {
	c := testGeminiClient(100 * time.Millisecond)
	calls := 0

	start := time.Now()
	err := c.withRetry(context.Background(), func() error {
		calls++
		return &googleapi.Error{Code: http.StatusServiceUnavailable}
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
	// backoff runs only between attempts: 100ms + 200ms
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 550*time.Millisecond)
}

func TestGeminiWithRetry_RecoversFromTransientError(t *testing.T) {
	c := testGeminiClient(time.Millisecond)
	calls := 0

	err := c.withRetry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return status.Error(codes.Unavailable, "overloaded")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGeminiWithRetry_ContextEndsDuringBackoff(t *testing.T) {
	c := testGeminiClient(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.withRetry(ctx, func() error {
		return fmt.Errorf("connection reset by peer")
	})
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
}
