package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business-level errors that can occur in the system.
// These errors are used across layers to communicate specific failure conditions.
var (
	// Session errors
	ErrNoSession      = errors.New("no active session")
	ErrSessionExpired = errors.New("session expired")

	// Package errors
	ErrPackageNotFound = errors.New("package not found")
	ErrInvalidChecksum = errors.New("invalid checksum")
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// Queue errors
	ErrQueueFull         = errors.New("upload queue is full")
	ErrQueueItemNotFound = errors.New("queue item not found")
	ErrSourceFileMissing = errors.New("source file missing")
	ErrJobNotCancellable = errors.New("job is not cancellable")

	// Transfer errors
	ErrSessionNotFound = errors.New("upload session not found")
	ErrUploadCancelled = errors.New("upload cancelled")

	// Lock errors
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Kind classifies an error into one of the pipeline's failure areas.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindSecurity   Kind = "security"
	KindTransfer   Kind = "transfer"
	KindQuota      Kind = "quota"
	KindSystem     Kind = "system"
	KindQueue      Kind = "queue"
)

// Stable error codes surfaced to callers and recorded on queued jobs.
const (
	CodeAuthRequired           = "AUTH_REQUIRED"
	CodeInvalidPackage         = "INVALID_PACKAGE"
	CodePackageTooLarge        = "PACKAGE_TOO_LARGE"
	CodeInvalidVersion         = "INVALID_VERSION"
	CodeInvalidPlatform        = "INVALID_PLATFORM"
	CodeSensitiveDataDetected  = "SENSITIVE_DATA_DETECTED"
	CodeSanitizationFailed     = "SANITIZATION_FAILED"
	CodeMaliciousContent       = "MALICIOUS_CONTENT"
	CodeUploadFailed           = "UPLOAD_FAILED"
	CodeChunkFailed            = "CHUNK_FAILED"
	CodeStorageQuotaExceeded   = "STORAGE_QUOTA_EXCEEDED"
	CodeNetworkTimeout         = "NETWORK_TIMEOUT"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeBandwidthLimitExceeded = "BANDWIDTH_LIMIT_EXCEEDED"
	CodeRegistryError          = "REGISTRY_ERROR"
	CodeInternalError          = "INTERNAL_ERROR"
	CodeQueueFull              = "QUEUE_FULL"
	CodeQueueItemNotFound      = "QUEUE_ITEM_NOT_FOUND"
	CodeSourceFileMissing      = "SOURCE_FILE_MISSING"
	CodeQueuePersistence       = "QUEUE_PERSISTENCE"
)

// kindForCode maps every stable code to its kind.
var kindForCode = map[string]Kind{
	CodeAuthRequired:           KindAuth,
	CodeInvalidPackage:         KindValidation,
	CodePackageTooLarge:        KindValidation,
	CodeInvalidVersion:         KindValidation,
	CodeInvalidPlatform:        KindValidation,
	CodeSensitiveDataDetected:  KindSecurity,
	CodeSanitizationFailed:     KindSecurity,
	CodeMaliciousContent:       KindSecurity,
	CodeUploadFailed:           KindTransfer,
	CodeChunkFailed:            KindTransfer,
	CodeStorageQuotaExceeded:   KindTransfer,
	CodeNetworkTimeout:         KindTransfer,
	CodeRateLimitExceeded:      KindQuota,
	CodeBandwidthLimitExceeded: KindQuota,
	CodeRegistryError:          KindSystem,
	CodeInternalError:          KindSystem,
	CodeQueueFull:              KindQueue,
	CodeQueueItemNotFound:      KindQueue,
	CodeSourceFileMissing:      KindQueue,
	CodeQueuePersistence:       KindQueue,
}

// retryableCodes are failures where a later attempt can reasonably succeed.
var retryableCodes = map[string]bool{
	CodeUploadFailed:           true,
	CodeChunkFailed:            true,
	CodeNetworkTimeout:         true,
	CodeRegistryError:          true,
	CodeRateLimitExceeded:      true,
	CodeBandwidthLimitExceeded: true,
}

// PipelineError is the structured error type crossing component boundaries.
// Every error leaving the orchestrator is one of these.
type PipelineError struct {
	Code      string
	Kind      Kind
	Message   string
	Context   map[string]any
	Cause     error
	Retryable bool
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a context value and returns the error for chaining.
func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewError creates a PipelineError with the kind and retryable flag derived
// from the code.
func NewError(code, message string) *PipelineError {
	kind, ok := kindForCode[code]
	if !ok {
		kind = KindSystem
	}
	return &PipelineError{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Retryable: retryableCodes[code],
	}
}

// WrapError creates a PipelineError wrapping an underlying cause.
func WrapError(code, message string, cause error) *PipelineError {
	err := NewError(code, message)
	err.Cause = cause
	return err
}

// AsPipelineError returns err as a *PipelineError, wrapping unexpected errors
// into the system kind so nothing untyped leaves the orchestrator.
func AsPipelineError(err error) *PipelineError {
	if err == nil {
		return nil
	}
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr
	}
	return WrapError(CodeInternalError, "unexpected error", err)
}

// userMessages maps codes to what the CLI shows a human.
var userMessages = map[string]struct {
	message    string
	suggestion string
}{
	CodeAuthRequired:           {"You need to be logged in to publish packages.", "Run 'taptik login' and try again."},
	CodeInvalidPackage:         {"The package file is malformed or not a taptik package.", "Re-export the package and verify it opens locally."},
	CodePackageTooLarge:        {"The package exceeds the size limit for your plan.", "Remove large assets or upgrade to the pro tier."},
	CodeInvalidVersion:         {"The package version is not valid semantic versioning.", "Use a version like 1.2.3."},
	CodeInvalidPlatform:        {"The target platform is not recognized.", "Use one of: claude-code, kiro, cursor, windsurf, universal."},
	CodeSensitiveDataDetected:  {"The package contains data that looks like secrets.", "Remove the flagged values, or re-run with --force to publish anyway."},
	CodeSanitizationFailed:     {"The package could not be scanned for sensitive data.", "Check that the package content is valid JSON or a valid archive."},
	CodeMaliciousContent:       {"The package contains content flagged as potentially malicious.", "Inspect the flagged entries; contact support if this is a false positive."},
	CodeUploadFailed:           {"Uploading the package failed.", "Check your network connection and retry, or use 'taptik queue add' for background retry."},
	CodeChunkFailed:            {"Part of the upload failed.", "Retry the upload; completed parts will be reused."},
	CodeNetworkTimeout:         {"The upload timed out.", "Check your connection and retry."},
	CodeStorageQuotaExceeded:   {"Your storage quota is exhausted.", "Delete old packages or upgrade your plan."},
	CodeRateLimitExceeded:      {"You have reached your daily upload limit.", "Wait until the limit resets at midnight UTC, or upgrade to pro."},
	CodeBandwidthLimitExceeded: {"You have reached your daily bandwidth limit.", "Wait until the limit resets at midnight UTC, or upgrade to pro."},
	CodeRegistryError:          {"The registry service returned an error.", "Retry in a few minutes."},
	CodeInternalError:          {"An internal error occurred.", "Retry; if the problem persists, report it with the log output."},
	CodeQueueFull:              {"The local upload queue is full.", "Run 'taptik queue run' or clear completed/failed entries."},
	CodeQueueItemNotFound:      {"No queued upload with that id.", "Run 'taptik queue list' to see queued uploads."},
	CodeSourceFileMissing:      {"The package file no longer exists on disk.", "Re-create the package or remove the queue entry."},
	CodeQueuePersistence:       {"The local upload queue file could not be read or written.", "Check permissions on the taptik config directory."},
}

// UserMessage returns the human-readable form of the error.
func (e *PipelineError) UserMessage() string {
	if m, ok := userMessages[e.Code]; ok {
		return m.message
	}
	return e.Message
}

// Suggestion returns the remediation hint for the error, or "".
func (e *PipelineError) Suggestion() string {
	if m, ok := userMessages[e.Code]; ok {
		return m.suggestion
	}
	return ""
}
