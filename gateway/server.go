// Package gateway is the client-facing HTTP surface: the optimize endpoint,
// health, and metrics in JSON and Prometheus text form.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/orchestration"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// maxBodyBytes bounds the optimize request body.
const maxBodyBytes = 1 << 20

// Server wires the pipeline behind HTTP.
type Server struct {
	cfg      *core.Config
	pipeline *orchestration.Pipeline
	checks   map[string]core.HealthChecker
	limiter  *rateLimiter
	logger   core.Logger
}

// NewServer creates a gateway. checks names the components reported by
// /health; all of them are treated as critical.
func NewServer(cfg *core.Config, pipeline *orchestration.Pipeline,
	checks map[string]core.HealthChecker, logger core.Logger) *Server {

	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Server{
		cfg:      cfg,
		pipeline: pipeline,
		checks:   checks,
		limiter:  newRateLimiter(cfg.RateLimit),
		logger:   logger,
	}
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/optimize", s.handleOptimize)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	if r := telemetry.Default(); r != nil {
		mux.Handle("/metrics/prometheus",
			promhttp.HandlerFor(r.PrometheusRegistry(), promhttp.HandlerOpts{}))
	}

	var h http.Handler = mux
	h = s.rateLimit(h)
	h = s.cors(h)
	h = traceMiddleware(h)
	return otelhttp.NewHandler(h, "gateway")
}

// ListenAndServe runs the gateway on the configured port.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Gateway listening", map[string]interface{}{
		"operation": "serve",
		"addr":      addr,
	})
	return srv.ListenAndServe()
}

// optimizeReply is the envelope returned by /api/optimize. On failure the
// error code is a bare string and the detail list sits at the top level.
type optimizeReply struct {
	Success bool                       `json:"success"`
	TraceID string                     `json:"trace_id"`
	Result  *core.OptimizationResponse `json:"result,omitempty"`
	Metrics *replyMetrics              `json:"metrics,omitempty"`
	Receipt *core.Receipt              `json:"promptDial_receipt,omitempty"`
	Error   core.ErrorCode             `json:"error,omitempty"`
	Details []string                   `json:"details,omitempty"`
}

// replyMetrics summarizes one optimization for the client.
type replyMetrics struct {
	DurationMS        int64              `json:"duration_ms"`
	VariantsGenerated int                `json:"variants_generated"`
	TechniquesUsed    []core.TechniqueID `json:"techniques_used"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	traceID := traceFrom(r)

	var req core.OptimizationRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, traceID, core.NewPipelineError("gateway.optimize",
			core.CodeInvalidParameters, traceID, fmt.Errorf("malformed request body: %w", err)))
		return
	}

	start := time.Now()
	resp, err := s.pipeline.Optimize(r.Context(), &req, traceID)
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &optimizeReply{
		Success: true,
		TraceID: resp.TraceID,
		Result:  resp,
		Metrics: &replyMetrics{
			DurationMS:        time.Since(start).Milliseconds(),
			VariantsGenerated: resp.Metadata.TotalVariantsGenerated,
			TechniquesUsed:    resp.Metadata.TechniquesUsed,
		},
		Receipt: resp.Receipt,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type serviceHealth struct {
		Service string `json:"service"`
		Healthy bool   `json:"healthy"`
	}
	var services []serviceHealth
	allHealthy := true
	for name, check := range s.checks {
		ok := check.Healthy(r.Context())
		if !ok {
			allHealthy = false
		}
		services = append(services, serviceHealth{Service: name, Healthy: ok})
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{
		"healthy":  allHealthy,
		"services": services,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	reg := telemetry.Default()
	if reg == nil {
		http.Error(w, "telemetry unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": reg.Snapshot(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, traceID string, err error) {
	code := core.CodeOf(err)
	reply := &optimizeReply{
		Success: false,
		TraceID: traceID,
		Error:   code,
	}
	var pe *core.PipelineError
	if errors.As(err, &pe) {
		reply.Details = pe.Details
	}
	s.logger.Warn("Request failed", map[string]interface{}{
		"operation": "write_error",
		"trace_id":  traceID,
		"code":      string(code),
		"error":     err.Error(),
	})
	s.writeJSON(w, code.HTTPStatus(), reply)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{
			"operation": "write_json",
			"error":     err.Error(),
		})
	}
}
