// Package service exposes the pipeline over HTTP: one POST tool
// endpoint per command, a composite generation-request endpoint, and
// read-only contract introspection. The service is a thin façade; all
// semantics live in the stage packages.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lootforge/internal/config"
	"lootforge/internal/contract"
	"lootforge/internal/evaluate"
	"lootforge/internal/generate"
	"lootforge/internal/paths"
	"lootforge/internal/plan"
	"lootforge/internal/process"
)

// Default inbound limit: the service fronts batch image generation, so
// request volume is operator-driven and modest.
const (
	defaultRPS   = 16
	defaultBurst = 32
)

// Config wires a server. OutRoot is required; zero limits fall back to
// the defaults above.
type Config struct {
	Host    string
	Port    int
	OutRoot string
	Runtime *config.Config
	RPS     rate.Limit
	Burst   int
	Logger  *zap.Logger
}

// Server is the lootforge HTTP service.
type Server struct {
	layout  paths.Layout
	runtime *config.Config
	logger  *zap.Logger
	limiter *rate.Limiter
	addr    string
	httpSrv *http.Server
}

// New builds a server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runtime := cfg.Runtime
	if runtime == nil {
		runtime = config.DefaultConfig()
	}
	rps := cfg.RPS
	if rps == 0 {
		rps = defaultRPS
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = defaultBurst
	}
	return &Server{
		layout:  paths.NewLayout(cfg.OutRoot),
		runtime: runtime,
		logger:  logger,
		limiter: rate.NewLimiter(rps, burst),
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
}

// Handler returns the routed handler with middleware applied. Exposed
// so tests can drive the service through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/contract/version", s.handleContractVersion)
	mux.HandleFunc("/v1/contract/kinds", s.handleContractKinds)
	mux.HandleFunc("/v1/contract/schemas/", s.handleContractSchema)
	mux.HandleFunc("/v1/tools/", s.handleTool)
	mux.HandleFunc("/v1/generation/requests", s.handleGenerationRequest)
	return s.withRequestId(s.withRateLimit(mux))
}

// ListenAndServe blocks serving requests until Shutdown. A closed
// server returns nil rather than http.ErrServerClosed.
func (s *Server) ListenAndServe() error {
	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // generation requests are long
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("service listening", zap.String("addr", s.addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// errorBody is the error half of the response envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// response is the uniform JSON envelope: exactly one of Result or
// Error is set.
type response struct {
	Ok        bool       `json:"ok"`
	Result    any        `json:"result,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	RequestId string     `json:"requestId,omitempty"`
}

type requestIdKey struct{}

func (s *Server) withRequestId(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIdKey{}, id)))
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.writeError(w, r, http.StatusTooManyRequests, "rate_limited", "request rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestId(r *http.Request) string {
	id, _ := r.Context().Value(requestIdKey{}).(string)
	return id
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, result any) {
	s.writeEnvelope(w, http.StatusOK, response{Ok: true, Result: result, RequestId: requestId(r)})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	s.writeEnvelope(w, status, response{
		Ok:        false,
		Error:     &errorBody{Code: code, Message: message, Details: details},
		RequestId: requestId(r),
	})
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, env response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

// writeStageError maps a stage error onto the envelope. Typed failures
// keep their machine-readable codes; everything else is a generic
// stage failure.
func (s *Server) writeStageError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, details := classify(err)
	s.writeError(w, r, status, code, err.Error(), details)
}

func classify(err error) (int, string, any) {
	var pme *paramError
	if errors.As(err, &pme) {
		return http.StatusBadRequest, "invalid_params", nil
	}
	var ce *contract.ContractError
	if errors.As(err, &ce) {
		return http.StatusUnprocessableEntity, ce.ErrKind, ce.Diagnostics
	}
	var pe *plan.PlanError
	if errors.As(err, &pe) {
		return http.StatusUnprocessableEntity, "plan_rejected", pe.Issues
	}
	var re *generate.RunError
	if errors.As(err, &re) {
		return http.StatusUnprocessableEntity, "generation_failed", re.Failed
	}
	var pse *process.StrictError
	if errors.As(err, &pse) {
		return http.StatusUnprocessableEntity, "acceptance_failed_strict", nil
	}
	var ese *evaluate.StrictError
	if errors.As(err, &ese) {
		return http.StatusUnprocessableEntity, "eval_failed_strict", nil
	}
	return http.StatusInternalServerError, "stage_failed", nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
		return
	}
	s.writeResult(w, r, map[string]string{
		"status":          "healthy",
		"contractVersion": contract.ContractVersion,
	})
}

func (s *Server) handleContractVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
		return
	}
	s.writeResult(w, r, map[string]string{"version": contract.ContractVersion})
}

func (s *Server) handleContractKinds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
		return
	}
	s.writeResult(w, r, map[string][]contract.Kind{"kinds": contract.Kinds()})
}

func (s *Server) handleContractSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
		return
	}
	kind := strings.TrimPrefix(r.URL.Path, "/v1/contract/schemas/")
	src, ok := contract.SchemaJSON(contract.Kind(kind))
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "unknown_kind", fmt.Sprintf("no schema for kind %q", kind), nil)
		return
	}
	s.writeResult(w, r, json.RawMessage(src))
}
