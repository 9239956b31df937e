package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Pipeline stage errors
	ErrInvalidVariant   = errors.New("invalid variant")
	ErrNoVariants       = errors.New("no variants produced")
	ErrBuilderInvariant = errors.New("builder invariant violated")
	ErrFlowMismatch     = errors.New("flow invariant violated")
	ErrNoSafeVariant    = errors.New("no safe variant available")
	ErrBudgetExceeded   = errors.New("budget exceeded")
	ErrSafetyBlocked    = errors.New("prompt blocked by safety guard")
	ErrClassifierFailed = errors.New("classifier unavailable")

	// Transport errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Receipt errors
	ErrReceiptInvalid = errors.New("receipt verification failed")
)

// ErrorCode is a member of the closed wire-level error code set.
type ErrorCode string

const (
	CodeInvalidPrompt      ErrorCode = "INVALID_PROMPT"
	CodeInvalidModel       ErrorCode = "INVALID_MODEL"
	CodeInvalidParameters  ErrorCode = "INVALID_PARAMETERS"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInsufficientBudget ErrorCode = "INSUFFICIENT_BUDGET"
	CodeOptimizationFailed ErrorCode = "OPTIMIZATION_FAILED"
	CodeEvaluationFailed   ErrorCode = "EVALUATION_FAILED"
	CodeSafetyViolation    ErrorCode = "SAFETY_VIOLATION"
	CodeFlowMismatch       ErrorCode = "FLOW_MISMATCH"
	CodeBuilderInvariant   ErrorCode = "BUILDER_INVARIANT"
	CodeNoSafeVariant      ErrorCode = "NO_SAFE_VARIANT"
	CodeBudgetExceeded     ErrorCode = "BUDGET_EXCEEDED"
	CodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// codeStatus is the fixed mapping from error code to HTTP status at the
// gateway boundary.
var codeStatus = map[ErrorCode]int{
	CodeInvalidPrompt:      http.StatusBadRequest,
	CodeInvalidModel:       http.StatusBadRequest,
	CodeInvalidParameters:  http.StatusBadRequest,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeRateLimitExceeded:  http.StatusTooManyRequests,
	CodeInsufficientBudget: http.StatusPaymentRequired,
	CodeOptimizationFailed: http.StatusInternalServerError,
	CodeEvaluationFailed:   http.StatusInternalServerError,
	CodeSafetyViolation:    http.StatusBadRequest,
	CodeFlowMismatch:       http.StatusInternalServerError,
	CodeBuilderInvariant:   http.StatusInternalServerError,
	CodeNoSafeVariant:      http.StatusConflict,
	CodeBudgetExceeded:     http.StatusPaymentRequired,
	CodeInternalError:      http.StatusInternalServerError,
}

// HTTPStatus returns the HTTP status a code maps to, defaulting to 500 for
// anything outside the closed set.
func (c ErrorCode) HTTPStatus() int {
	if status, ok := codeStatus[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Valid reports whether c belongs to the recognized code set.
func (c ErrorCode) Valid() bool {
	_, ok := codeStatus[c]
	return ok
}

// retryableCodes marks codes the orchestrator may retry per-call.
var retryableCodes = map[ErrorCode]bool{
	CodeTimeout:            true,
	CodeServiceUnavailable: true,
	CodeRateLimitExceeded:  true,
}

// Retryable reports whether a call failing with this code may be retried.
func (c ErrorCode) Retryable() bool {
	return retryableCodes[c]
}

// PipelineError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type PipelineError struct {
	Op      string    // Operation that failed (e.g., "builder.BuildVariants")
	Code    ErrorCode // Wire-level error code
	TraceID string    // Owning optimization, if known
	Details []string  // Optional detail list (flow guard failures)
	Err     error     // Underlying error for wrapping
}

// Error returns the string representation of the error.
func (e *PipelineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.TraceID != "" {
			return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.TraceID, e.Code, e.Err)
		}
		return fmt.Sprintf("%s %s: %v", e.Op, e.Code, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error may be retried.
func (e *PipelineError) Retryable() bool {
	return e.Code.Retryable()
}

// NewPipelineError creates a new PipelineError.
func NewPipelineError(op string, code ErrorCode, traceID string, err error) *PipelineError {
	return &PipelineError{Op: op, Code: code, TraceID: traceID, Err: err}
}

// CodeOf extracts the wire-level code from err, defaulting to INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	switch {
	case errors.Is(err, ErrBuilderInvariant):
		return CodeBuilderInvariant
	case errors.Is(err, ErrFlowMismatch):
		return CodeFlowMismatch
	case errors.Is(err, ErrNoSafeVariant):
		return CodeNoSafeVariant
	case errors.Is(err, ErrBudgetExceeded):
		return CodeBudgetExceeded
	case errors.Is(err, ErrSafetyBlocked):
		return CodeSafetyViolation
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrConnectionFailed):
		return CodeServiceUnavailable
	default:
		return CodeInternalError
	}
}

// IsRetryable checks if an error is retryable. Retryable errors are
// transient network or availability issues; invariant violations never are.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrServiceUnavailable)
}

// IsInvariantViolation checks if an error is a pipeline invariant failure,
// which is fatal to the request and must be loud.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrBuilderInvariant) || errors.Is(err, ErrFlowMismatch)
}

// IsConfigurationError checks if an error is configuration-related.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
