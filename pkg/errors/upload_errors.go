package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies failures in the ingestion pipeline.
type ErrorCode string

const (
	// Malformed upload envelope, disallowed type, bad size.
	ErrInvalidInput ErrorCode = "INVALID_INPUT"

	// Grammar or signature mismatch for a declared format. Never retried.
	ErrFormatViolation ErrorCode = "FORMAT_VIOLATION"

	// Threat scan failure: malicious pattern, entropy anomaly, XXE or script
	// injection. Never retried.
	ErrSecurityViolation ErrorCode = "SECURITY_VIOLATION"

	// Quota or size ceilings, triangle/vertex count ceilings.
	ErrResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// I/O errors eligible for retry or circuit breaker fallback.
	ErrTransientFailure ErrorCode = "TRANSIENT_FAILURE"

	// Unexpected fault caught at the pipeline boundary.
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// UploadError represents a structured error in the ingestion pipeline.
type UploadError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Stage     string                 `json:"stage,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (ue *UploadError) Error() string {
	if ue.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", ue.Code, ue.Stage, ue.Message)
	}
	return fmt.Sprintf("[%s]: %s", ue.Code, ue.Message)
}

// Unwrap returns the underlying cause error.
func (ue *UploadError) Unwrap() error {
	return ue.Cause
}

// NewUploadError creates a new structured pipeline error.
func NewUploadError(code ErrorCode, message string) *UploadError {
	return &UploadError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// WithStage adds the pipeline stage where the error occurred.
func (ue *UploadError) WithStage(stage string) *UploadError {
	ue.Stage = stage
	return ue
}

// WithCause adds the underlying cause error.
func (ue *UploadError) WithCause(err error) *UploadError {
	ue.Cause = err
	return ue
}

// WithContext adds arbitrary context to the error.
func (ue *UploadError) WithContext(key string, value interface{}) *UploadError {
	ue.Context[key] = value
	return ue
}

// IsUploadError checks if an error is an UploadError anywhere in its chain.
func IsUploadError(err error) (*UploadError, bool) {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// HasErrorCode checks if an error carries a specific error code.
func HasErrorCode(err error, code ErrorCode) bool {
	if ue, ok := IsUploadError(err); ok {
		return ue.Code == code
	}
	return false
}

// Retryable reports whether an error may be retried. Format and security
// violations are deterministic rejections and are never retried.
func Retryable(err error) bool {
	ue, ok := IsUploadError(err)
	if !ok {
		return true
	}
	switch ue.Code {
	case ErrFormatViolation, ErrSecurityViolation, ErrInvalidInput, ErrResourceExhausted:
		return false
	default:
		return true
	}
}

// WrapError wraps a regular error as an UploadError.
func WrapError(err error, code ErrorCode, message string) *UploadError {
	return NewUploadError(code, message).WithCause(err)
}

// Common constructors for frequently used errors.

func NewFormatViolation(stage, message string) *UploadError {
	return NewUploadError(ErrFormatViolation, message).WithStage(stage)
}

func NewSecurityViolation(stage, message string) *UploadError {
	return NewUploadError(ErrSecurityViolation, message).WithStage(stage)
}

func NewTransientFailure(stage string, cause error) *UploadError {
	return NewUploadError(ErrTransientFailure, "transient I/O failure").
		WithStage(stage).
		WithCause(cause)
}

func NewQuotaExceeded(needed, available uint64) *UploadError {
	return NewUploadError(ErrResourceExhausted, "quota exceeded").
		WithStage("quota").
		WithContext("needed_bytes", needed).
		WithContext("available_bytes", available)
}
