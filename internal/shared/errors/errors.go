package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorType classifies migration errors for retry and escalation decisions
type ErrorType string

const (
	// ErrorTypeTransient covers timeouts and network failures; retried with backoff
	ErrorTypeTransient ErrorType = "TRANSIENT_IO_ERROR"
	// ErrorTypeValidation covers documents the target rejects; never retried
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	// ErrorTypeCheckpoint covers checkpoint read/write failures; degrades to re-scan
	ErrorTypeCheckpoint ErrorType = "CHECKPOINT_IO_ERROR"
	// ErrorTypeCaptureDisconnect covers change feed/connection drops; worker re-inits
	ErrorTypeCaptureDisconnect ErrorType = "CAPTURE_DISCONNECT_ERROR"
	// ErrorTypeInternal covers everything else
	ErrorTypeInternal ErrorType = "INTERNAL_ERROR"
)

// Common application errors
var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrCheckpointCorrupt  = errors.New("checkpoint record corrupt")
	ErrStreamNotSupported = errors.New("change streams not supported by source")
	ErrWorkerStopped      = errors.New("worker stopped")
	ErrRetriesExhausted   = errors.New("retry attempts exhausted")
	ErrInvalidSpec        = errors.New("invalid collection spec")
)

// AppError represents a migration error with classification and context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Collection string                 `json:"collection,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Component  string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
	}
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithCollection adds the collection id
func (e *AppError) WithCollection(collection string) *AppError {
	e.Collection = collection
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error constructors

// NewTransientError creates a retryable I/O error
func NewTransientError(message string) *AppError {
	return NewAppError(ErrorTypeTransient, message)
}

// NewValidationError creates a permanent document-shape error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message)
}

// NewCheckpointError creates a checkpoint I/O error
func NewCheckpointError(message string) *AppError {
	return NewAppError(ErrorTypeCheckpoint, message)
}

// NewCaptureDisconnectError creates a change feed disconnect error
func NewCaptureDisconnectError(message string) *AppError {
	return NewAppError(ErrorTypeCaptureDisconnect, message)
}

// NewInternalError creates an unclassified internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message)
}

// WrapError wraps an error with context, preserving existing classification
func WrapError(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

// IsTransient reports whether an error should be retried with backoff.
// Network-level errors from the driver are treated as transient even when
// they were not classified at the call site.
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeTransient || appErr.Type == ErrorTypeCaptureDisconnect
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsValidation checks if an error is a permanent validation error
func IsValidation(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeValidation
	}
	return false
}

// IsCheckpoint checks if an error is a checkpoint I/O error
func IsCheckpoint(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeCheckpoint
	}
	return errors.Is(err, ErrCheckpointCorrupt)
}

// IsCaptureDisconnect checks if an error is a change feed disconnect
func IsCaptureDisconnect(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeCaptureDisconnect
	}
	return errors.Is(err, ErrStreamNotSupported)
}
