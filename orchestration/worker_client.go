package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/resilience"
)

// WorkerClient talks to an out-of-process stage worker over the envelope
// protocol. Network failures and 5xx responses are retried behind a
// per-service circuit breaker; structured worker errors pass through with
// their code intact.
type WorkerClient struct {
	service string
	baseURL string
	http    *http.Client
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  core.Logger
}

// NewWorkerClient creates a client for one worker service.
func NewWorkerClient(service, baseURL string, timeout time.Duration, logger core.Logger) *WorkerClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &WorkerClient{
		service: service,
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(service)),
		logger:  logger,
	}
}

// Call invokes method on the worker and decodes the response payload into
// out. out may be nil when the caller only needs success or failure.
func (c *WorkerClient) Call(ctx context.Context, traceID, method string, payload, out interface{}) error {
	envelope, err := core.NewServiceRequest(traceID, c.service, method, payload)
	if err != nil {
		return core.NewPipelineError(c.service+"."+method, core.CodeInternalError, traceID, err)
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return core.NewPipelineError(c.service+"."+method, core.CodeInternalError, traceID, err)
	}

	var svcResp core.ServiceResponse
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return core.NewPipelineError(c.service+"."+method, core.CodeInternalError, traceID, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(core.TraceIDHeader, traceID)

		resp, err := c.http.Do(req)
		if err != nil {
			return core.NewPipelineError(c.service+"."+method, core.CodeServiceUnavailable, traceID, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return core.NewPipelineError(c.service+"."+method, core.CodeServiceUnavailable, traceID,
				fmt.Errorf("worker returned status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return core.NewPipelineError(c.service+"."+method, core.CodeInvalidParameters, traceID,
				fmt.Errorf("worker returned status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&svcResp); err != nil {
			return core.NewPipelineError(c.service+"."+method, core.CodeServiceUnavailable, traceID,
				fmt.Errorf("malformed worker response: %w", err))
		}
		return nil
	}

	if err := resilience.RetryWithCircuitBreaker(ctx, c.retry, c.breaker, attempt); err != nil {
		if errors.Is(err, core.ErrCircuitBreakerOpen) {
			return core.NewPipelineError(c.service+"."+method, core.CodeServiceUnavailable, traceID, err)
		}
		return err
	}
	if !svcResp.Success {
		code := core.CodeInternalError
		message := "worker reported failure without detail"
		if svcResp.Error != nil {
			code = svcResp.Error.Code
			message = svcResp.Error.Message
		}
		return core.NewPipelineError(c.service+"."+method, code, traceID, fmt.Errorf("%s", message))
	}
	if svcResp.TraceID != traceID {
		return core.NewPipelineError(c.service+"."+method, core.CodeInternalError, traceID,
			fmt.Errorf("worker echoed trace %q", svcResp.TraceID))
	}
	if out != nil && svcResp.Data != nil {
		if err := json.Unmarshal(svcResp.Data, out); err != nil {
			return core.NewPipelineError(c.service+"."+method, core.CodeInternalError, traceID,
				fmt.Errorf("malformed worker payload: %w", err))
		}
	}
	return nil
}
