// Package errors provides structured error types for crewflow.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrRateLimit    = errors.New("rate limit exceeded")
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")

	// ErrInvalidConfig rejects a run before any phase executes.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTerminalState is returned when advancing a project that already finished.
	ErrTerminalState = errors.New("project is in a terminal phase")

	// ErrRetryBudgetExhausted marks a loop-back that hit its counter ceiling.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrStepCeilingExceeded marks a run that hit the global step bound.
	ErrStepCeilingExceeded = errors.New("step ceiling exceeded")

	// ErrMemoryUnavailable is logged, never returned past the memory boundary.
	ErrMemoryUnavailable = errors.New("memory store unavailable")

	// ErrCancelled marks a run stopped between steps by its caller.
	ErrCancelled = errors.New("run cancelled")

	// ErrNoTransition means no routing rule matched the merged state.
	ErrNoTransition = errors.New("no transition matched")
)

// AdapterErrorKind classifies crew adapter failures.
type AdapterErrorKind string

const (
	AdapterTimeout   AdapterErrorKind = "timeout"
	AdapterBackend   AdapterErrorKind = "backend_failure"
	AdapterMalformed AdapterErrorKind = "malformed_response"
)

// AdapterError is a failure reported by a crew adapter. The orchestrator
// treats every AdapterError as non-recoverable at the current phase.
type AdapterError struct {
	Kind  AdapterErrorKind
	Phase string
	Err   error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crew adapter %s (phase %s): %v", e.Kind, e.Phase, e.Err)
	}
	return fmt.Sprintf("crew adapter %s (phase %s)", e.Kind, e.Phase)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NewAdapterError creates a new adapter error.
func NewAdapterError(kind AdapterErrorKind, phase string, err error) *AdapterError {
	return &AdapterError{Kind: kind, Phase: phase, Err: err}
}

// AsAdapterError normalizes any error returned by an adapter. Errors that are
// not already AdapterErrors are classified as backend failures, except
// timeouts which keep their kind.
func AsAdapterError(phase string, err error) *AdapterError {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, ErrTimeout) {
		return NewAdapterError(AdapterTimeout, phase, err)
	}
	return NewAdapterError(AdapterBackend, phase, err)
}

// GuardrailViolation carries the reasons of every blocking check that failed.
type GuardrailViolation struct {
	Phase   string
	Reasons []string
}

func (e *GuardrailViolation) Error() string {
	return fmt.Sprintf("guardrail violation in phase %s: %s", e.Phase, strings.Join(e.Reasons, "; "))
}

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}

// Kind returns a short machine-readable label for a terminal failure cause.
func Kind(err error) string {
	var ae *AdapterError
	var gv *GuardrailViolation
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ae):
		return "adapter_" + string(ae.Kind)
	case errors.As(err, &gv):
		return "guardrail_violation"
	case errors.Is(err, ErrRetryBudgetExhausted):
		return "retry_budget_exhausted"
	case errors.Is(err, ErrStepCeilingExceeded):
		return "step_ceiling_exceeded"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrNoTransition):
		return "no_transition"
	default:
		return "internal"
	}
}
