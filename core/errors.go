package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Configuration errors
	ErrMissingWorkloadID = errors.New("missing workload id")
	ErrMissingToken      = errors.New("missing platform token")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// State errors
	ErrWorkloadNotReady = errors.New("workload not ready")
	ErrAlreadyStarted   = errors.New("already started")

	// Transport errors
	ErrRateLimited        = errors.New("rate limited by platform")
	ErrForbidden          = errors.New("rejected by platform policy")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrRequestFailed      = errors.New("request failed")
	ErrConnectionFailed   = errors.New("connection failed")
)

// AgentError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type AgentError struct {
	Op      string // Operation that failed (e.g., "transport.Send")
	Kind    string // Error kind (e.g., "config", "transport", "webhook")
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *AgentError) Error() string {
	if e.Op != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *AgentError) Unwrap() error {
	return e.Err
}

// NewAgentError creates a new AgentError
func NewAgentError(op, kind string, err error) *AgentError {
	return &AgentError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsPolicyRejection checks if an error represents a rate-limit or policy
// rejection. These are never retried inline.
func IsPolicyRejection(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrForbidden)
}

// IsRetryable checks if an error is retryable
// Retryable errors are typically transient network or availability issues
func IsRetryable(err error) bool {
	if IsPolicyRejection(err) {
		return false
	}
	return errors.Is(err, ErrRequestFailed) ||
		errors.Is(err, ErrConnectionFailed)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrMissingWorkloadID) ||
		errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrInvalidConfiguration)
}
