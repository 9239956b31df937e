package orchestration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

func TestWorkerClientRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(core.TraceIDHeader); got != "pd-worker-1" {
			t.Errorf("trace header = %q", got)
		}
		var req core.ServiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if req.Service != "classifier" || req.Method != "classify" {
			t.Errorf("envelope routing = %s/%s", req.Service, req.Method)
		}
		resp, _ := core.NewServiceResponse(req.TraceID, req.Service,
			map[string]string{"task_type": "math_reasoning"})
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewWorkerClient("classifier", server.URL, time.Second, nil)
	var out map[string]string
	err := c.Call(context.Background(), "pd-worker-1", "classify",
		map[string]string{"prompt": "2+2"}, &out)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["task_type"] != "math_reasoning" {
		t.Errorf("payload = %v", out)
	}
}

func TestWorkerClientRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp, _ := core.NewServiceResponse("pd-worker-2", "runner", "ok")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewWorkerClient("runner", server.URL, time.Second, nil)
	c.retry.InitialDelay = time.Millisecond
	c.retry.MaxDelay = 2 * time.Millisecond

	var out string
	if err := c.Call(context.Background(), "pd-worker-2", "run", nil, &out); err != nil {
		t.Fatalf("Call after retries: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWorkerClientStructuredFailureNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		resp := core.NewServiceErrorResponse("pd-worker-3", "planner",
			core.CodeInvalidParameters, "bad plan request")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewWorkerClient("planner", server.URL, time.Second, nil)
	err := c.Call(context.Background(), "pd-worker-3", "plan", nil, nil)
	if err == nil {
		t.Fatal("structured failure must surface")
	}
	if core.CodeOf(err) != core.CodeInvalidParameters {
		t.Errorf("code = %s", core.CodeOf(err))
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, structured failures must not be retried", calls)
	}
}

func TestWorkerClientRejectsForeignTrace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, _ := core.NewServiceResponse("pd-wrong", "evaluator", "ok")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewWorkerClient("evaluator", server.URL, time.Second, nil)
	if err := c.Call(context.Background(), "pd-worker-4", "evaluate", nil, nil); err == nil {
		t.Fatal("foreign trace echo must fail")
	}
}
