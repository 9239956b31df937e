package core

import (
	"encoding/json"
	"time"
)

// TraceIDHeader carries the trace identifier on every inter-service call.
const TraceIDHeader = "X-Trace-ID"

// ServiceRequest is the envelope workers receive from the orchestrator.
type ServiceRequest struct {
	TraceID   string          `json:"trace_id"`
	Timestamp string          `json:"timestamp"`
	Service   string          `json:"service"`
	Method    string          `json:"method"`
	Payload   json.RawMessage `json:"payload"`
}

// ServiceError is the structured error half of a ServiceResponse.
type ServiceError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// ServiceResponse is the envelope workers return. TraceID always echoes the
// request's.
type ServiceResponse struct {
	TraceID   string          `json:"trace_id"`
	Timestamp string          `json:"timestamp"`
	Service   string          `json:"service"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ServiceError   `json:"error,omitempty"`
}

// NewServiceRequest wraps a payload for the named service and method.
func NewServiceRequest(traceID, service, method string, payload interface{}) (*ServiceRequest, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &ServiceRequest{
		TraceID:   traceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   service,
		Method:    method,
		Payload:   raw,
	}, nil
}

// NewServiceResponse wraps a successful result preserving the trace.
func NewServiceResponse(traceID, service string, data interface{}) (*ServiceResponse, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &ServiceResponse{
		TraceID:   traceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   service,
		Success:   true,
		Data:      raw,
	}, nil
}

// NewServiceErrorResponse wraps a failure preserving the trace.
func NewServiceErrorResponse(traceID, service string, code ErrorCode, message string) *ServiceResponse {
	return &ServiceResponse{
		TraceID:   traceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   service,
		Success:   false,
		Error: &ServiceError{
			Code:      code,
			Message:   message,
			Retryable: code.Retryable(),
		},
	}
}
