package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidationError is a shorthand for request validation failures.
func NewValidationError(format string, args ...any) *DomainError {
	return NewDomainError(ErrCodeValidation, fmt.Sprintf(format, args...))
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeUnavailable      = "UNAVAILABLE"
	ErrCodeConflict         = "CONFLICT"
)

// Validation errors
var (
	ErrInvalidChunkType        = NewDomainError(ErrCodeValidation, "invalid chunk type")
	ErrInvalidJobStatus        = NewDomainError(ErrCodeValidation, "invalid indexing job status")
	ErrInvalidTrigger          = NewDomainError(ErrCodeValidation, "invalid indexing trigger")
	ErrInvalidScope            = NewDomainError(ErrCodeValidation, "invalid scope")
	ErrInvalidSearchMode       = NewDomainError(ErrCodeValidation, "invalid search mode")
	ErrMissingRequiredField    = NewDomainError(ErrCodeValidation, "missing required field")
	ErrEmptyQuery              = NewDomainError(ErrCodeValidation, "query cannot be empty")
	ErrInvalidScheduleInterval = NewDomainError(ErrCodeValidation, "schedule interval must be positive")
	ErrSearchWindowExceeded    = NewDomainError(ErrCodeValidation, "offset+limit exceeds the ranked search window")
)

// Not found errors
var (
	ErrProjectNotFound      = NewDomainError(ErrCodeNotFound, "project not found")
	ErrIndexingJobNotFound  = NewDomainError(ErrCodeNotFound, "indexing job not found")
	ErrQueueJobNotFound     = NewDomainError(ErrCodeNotFound, "queue job not found")
	ErrWorkingCopyNotFound  = NewDomainError(ErrCodeNotFound, "working copy not found")
	ErrSourceFileNotFound   = NewDomainError(ErrCodeNotFound, "file not found in working copy")
	ErrSourceFileNotIndexed = NewDomainError(ErrCodeValidation, "file is excluded from indexing")
)

// Already exists errors
var (
	ErrProjectAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "project already exists")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// Operation errors
var (
	ErrJobAlreadyFinished = NewDomainError(ErrCodeInvalidOperation, "indexing job already finished")
	ErrJobCancelled       = NewDomainError(ErrCodeInvalidOperation, "indexing job cancelled")
	ErrAlreadyIndexing    = NewDomainError(ErrCodeConflict, "project is already being indexed")
	ErrDuplicateQueueJob  = NewDomainError(ErrCodeConflict, "queue job with this dedup key is already in flight")
)

// Dependency errors
var (
	ErrEmbeddingUnavailable = NewDomainError(ErrCodeUnavailable, "embedding provider unavailable")
	ErrSearchUnavailable    = NewDomainError(ErrCodeUnavailable, "all search legs failed")
	ErrStorageOperationFail = NewDomainError(ErrCodeInternalError, "storage operation failed")
)
