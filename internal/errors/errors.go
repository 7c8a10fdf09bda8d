package errors

import (
	"fmt"
	"time"
)

/**
 * Error taxonomy for the OCR worker
 *
 * Design Pattern: Factory Pattern for error creation
 * Matching: errors.Is compares by ErrorCode, so callers test against the
 * sentinel values below regardless of message or cause.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorDecodeFailed      ErrorCode = "DECODE_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorBatchTooLarge     ErrorCode = "BATCH_TOO_LARGE"

	// Engine errors
	ErrorEngineUnavailable     ErrorCode = "ENGINE_UNAVAILABLE"
	ErrorEngineExecutionFailed ErrorCode = "ENGINE_EXECUTION_FAILED"
	ErrorPreprocessingDegraded ErrorCode = "PREPROCESSING_DEGRADED"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"

	// Network errors
	ErrorAPICallFailed ErrorCode = "API_CALL_FAILED"
)

// Sentinels for errors.Is
var (
	ErrDecodeFailed          = &ProcessingError{Code: ErrorDecodeFailed}
	ErrUnsupportedFormat     = &ProcessingError{Code: ErrorUnsupportedFormat}
	ErrBatchTooLarge         = &ProcessingError{Code: ErrorBatchTooLarge}
	ErrEngineUnavailable     = &ProcessingError{Code: ErrorEngineUnavailable}
	ErrEngineExecution       = &ProcessingError{Code: ErrorEngineExecutionFailed}
	ErrPreprocessingDegraded = &ProcessingError{Code: ErrorPreprocessingDegraded}
	ErrProcessingTimeout     = &ProcessingError{Code: ErrorProcessingTimeout}
	ErrAPICallFailed         = &ProcessingError{Code: ErrorAPICallFailed}
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ProcessingError with the same code.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Factory functions for common errors

func NewDecodeError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDecodeFailed,
		Message:   "Unable to decode image bytes",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewBatchTooLargeError(jobID string, size, limit int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorBatchTooLarge,
		Message:   fmt.Sprintf("Maximum %d images per batch, got %d", limit, size),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"batch_size":  size,
			"batch_limit": limit,
		},
	}
}

func NewEngineUnavailableError(jobID string, engine string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineUnavailable,
		Message:   fmt.Sprintf("Engine %s is not available", engine),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
	}
}

func NewEngineExecutionError(jobID string, engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineExecutionFailed,
		Message:   fmt.Sprintf("Engine %s failed during recognition", engine),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewPreprocessingDegradedError(stage string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPreprocessingDegraded,
		Message:   fmt.Sprintf("Preprocessing stage %s failed, fell back to grayscale", stage),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"stage": stage,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewAPICallFailedError(service string, statusCode int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorAPICallFailed,
		Message:   fmt.Sprintf("Call to %s failed", service),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"service":     service,
			"status_code": statusCode,
		},
		Cause: cause,
	}
}

// ToMap converts error to map for API responses and queue results
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
