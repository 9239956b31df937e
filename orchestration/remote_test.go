package orchestration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/plan"
)

// traceRecorder is a stub worker that records the trace each request
// carries and answers with a fixed payload.
type traceRecorder struct {
	service string
	data    interface{}

	mu     sync.Mutex
	traces []string
}

func (s *traceRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req core.ServiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		header := r.Header.Get(core.TraceIDHeader)
		if req.TraceID != header {
			t.Errorf("envelope trace %q != header trace %q", req.TraceID, header)
		}
		s.mu.Lock()
		s.traces = append(s.traces, header)
		s.mu.Unlock()

		resp, err := core.NewServiceResponse(req.TraceID, s.service, s.data)
		if err != nil {
			t.Errorf("build response: %v", err)
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (s *traceRecorder) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.traces...)
}

func TestRemoteClassifierPropagatesTrace(t *testing.T) {
	stub := &traceRecorder{service: "classifier", data: &core.Classification{
		TaskType: core.TaskMathReasoning,
	}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	rc := NewRemoteClassifier(srv.URL, time.Second, nil)
	result, err := rc.Classify(context.Background(), "Solve: If 3x + 5 = 20, what is x?", "pd-remote-1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.TaskType != core.TaskMathReasoning {
		t.Errorf("task type = %s", result.TaskType)
	}
	if seen := stub.seen(); len(seen) != 1 || seen[0] != "pd-remote-1" {
		t.Errorf("worker saw traces %v, want [pd-remote-1]", seen)
	}
}

func TestRemotePlannerPropagatesTrace(t *testing.T) {
	stub := &traceRecorder{service: "planner", data: &core.PlannerResult{
		SuggestedTechniques: []core.TechniqueID{core.TechniqueChainOfThought},
		Rationale:           "direct reasoning fits this prompt",
		Confidence:          0.8,
		Metadata:            core.PlannerMetadata{ModelUsed: "planner-v2"},
	}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	rp := NewRemotePlanner(srv.URL, time.Second, nil)
	result := rp.Plan(context.Background(), "prompt", &plan.Context{
		TaskType: core.TaskGeneralQA,
		TraceID:  "pd-remote-2",
	})
	if result.Metadata.ModelUsed != "planner-v2" {
		t.Errorf("plan collapsed to %q", result.Metadata.ModelUsed)
	}
	if seen := stub.seen(); len(seen) != 1 || seen[0] != "pd-remote-2" {
		t.Errorf("worker saw traces %v, want [pd-remote-2]", seen)
	}
}

func TestRemoteClassifierHealthUsesContextTrace(t *testing.T) {
	stub := &traceRecorder{service: "classifier", data: map[string]string{"status": "ok"}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	rc := NewRemoteClassifier(srv.URL, time.Second, nil)
	ctx := core.WithTraceID(context.Background(), "pd-health-1")
	if !rc.Healthy(ctx) {
		t.Fatal("healthy worker reported unhealthy")
	}
	if seen := stub.seen(); len(seen) != 1 || seen[0] != "pd-health-1" {
		t.Errorf("worker saw traces %v, want [pd-health-1]", seen)
	}
}
