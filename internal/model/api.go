package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeDuplicateName     = "DUPLICATE_NAME"
	ErrCodeAlreadyRunning    = "ALREADY_RUNNING"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInsufficientSpace = "INSUFFICIENT_SPACE"
)

// TriggerResponse is the body for POST /api/update/run.
type TriggerResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
}

// CleanupRequest is the body for POST /api/cleanup.
type CleanupRequest struct {
	DeleteCache  bool `json:"delete_cache"`
	DeleteOutput bool `json:"delete_output"`
}

// CleanupResponse reports what the cleanup removed.
type CleanupResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Document describes one generated PDF on disk.
type Document struct {
	Name      string    `json:"name"`
	Profile   string    `json:"profile"`
	AiracDate string    `json:"airac_date"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	IsOCR     bool      `json:"is_ocr"`
}

// HealthResponse is the body for GET /api/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Running  bool   `json:"update_running"`
	Uptime   int64  `json:"uptime_seconds"`
}
