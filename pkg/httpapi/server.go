// Package httpapi exposes the workflow engine's control surface over HTTP:
// start, approve/resume, status, active listing, and the cron-driven
// timeout sweep.
//
// The surface does not authenticate callers beyond the cron shared secret;
// identity lives in front of it, and whatever actor string arrives is
// recorded verbatim in the audit trail.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jalehto/virta/pkg/api"
	"github.com/jalehto/virta/pkg/sweeper"
)

const (
	actorHeader       = "X-Actor"
	defaultStartActor = "api"
	defaultAdminActor = "admin"
)

// Config describes how to construct a Server.
type Config struct {
	// CronSecret is the bearer credential GET /cron/reminders requires.
	// Empty disables the endpoint entirely (404 via the mux, never an
	// unauthenticated sweep).
	CronSecret string

	Logger *slog.Logger

	// Clock is a test seam. Nil means time.Now.
	Clock func() time.Time
}

// Server adapts the engine and sweeper to HTTP.
type Server struct {
	engine  api.Engine
	sweeper *sweeper.Sweeper
	secret  string
	logger  *slog.Logger
	clock   func() time.Time
}

// New creates a Server.
func New(engine api.Engine, sw *sweeper.Sweeper, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Server{
		engine:  engine,
		sweeper: sw,
		secret:  cfg.CronSecret,
		logger:  logger,
		clock:   clock,
	}
}

// Handler returns the route mux for the control surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /approve/{id}", s.handleApprove)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /threads", s.handleThreads)
	if s.secret != "" && s.sweeper != nil {
		mux.HandleFunc("GET /cron/reminders", s.handleCronReminders)
	}
	return mux
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var initial api.State
	if err := json.NewDecoder(r.Body).Decode(&initial); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body must be a JSON object")
		return
	}

	actor := r.Header.Get(actorHeader)
	if actor == "" {
		actor = defaultStartActor
	}

	inst, err := s.engine.Start(r.Context(), initial, actor)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"instanceId": inst.ID,
		"result":     inst,
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body must be a JSON object")
		return
	}
	if _, ok := body[api.KeyAction].(string); !ok || body[api.KeyAction] == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing action")
		return
	}

	req := api.ResumeRequest{
		Payload: api.State(body),
		Actor:   r.Header.Get(actorHeader),
	}
	if req.Actor == "" {
		req.Actor = defaultAdminActor
	}
	// An expectedVersion in the body guards against approving from a
	// stale view; it is a control field, not business state.
	if v, ok := body["expectedVersion"].(float64); ok {
		req.ExpectedVersion = int64(v)
		delete(body, "expectedVersion")
	}

	inst, err := s.engine.Resume(r.Context(), id, req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": inst})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	inst, err := s.engine.GetInstance(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	trail, err := s.engine.AuditTrail(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if trail == nil {
		trail = []api.AuditEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":            inst.State,
		"currentStep":      inst.Step,
		"status":           inst.Status,
		"pendingInterrupt": inst.Pending,
		"version":          inst.Version,
		"auditLog":         trail,
	})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	instances, err := s.engine.ListActive(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if instances == nil {
		instances = []*api.Instance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": instances})
}

func (s *Server) handleCronReminders(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+s.secret {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid cron credential")
		return
	}

	res, err := s.sweeper.Sweep(r.Context(), s.clock())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"scanned":  res.Scanned,
		"reminded": len(res.Reminded),
		"stalled":  len(res.Stalled),
	})
}

// writeEngineError maps the engine's error taxonomy onto status codes.
// Internal details never leak: unknown errors get a generic body and a log
// line.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case api.IsValidationError(err):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case api.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case api.IsInvalidStateError(err):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case api.IsConcurrencyError(err):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, r.Context().Err()) && r.Context().Err() != nil:
		writeError(w, http.StatusServiceUnavailable, "cancelled", "request cancelled")
	default:
		s.logger.ErrorContext(r.Context(), "http_internal_error",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": message,
		"code":  code,
	})
}
