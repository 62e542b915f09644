// Package httpapi exposes the orchestration facade over HTTP. It is
// deliberately thin: every handler translates one request into one
// engine call and renders the result.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mlahtinen/virta/pkg/api"
	"github.com/mlahtinen/virta/pkg/order"
)

// Server handles the workflow HTTP API.
type Server struct {
	engine api.Engine
	logger *slog.Logger

	// workersAlive reports whether the background dispatch loop is
	// running; consulted by the health endpoint. Nil means "always".
	workersAlive func() bool
}

// New creates a Server around the given engine.
func New(engine api.Engine, logger *slog.Logger, workersAlive func() bool) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:       engine,
		logger:       logger,
		workersAlive: workersAlive,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /workflow/start", s.handleStart)
	mux.HandleFunc("GET /workflow/status/{id}", s.handleStatus)
	mux.HandleFunc("POST /workflow/pause/{id}", s.handleControl(s.engine.Pause, "paused"))
	mux.HandleFunc("POST /workflow/resume/{id}", s.handleControl(s.engine.Resume, "resumed"))
	mux.HandleFunc("POST /workflow/terminate/{id}", s.handleControl(s.engine.Terminate, "terminated"))
	return mux
}

// startRequest is the start payload. Field presence is enforced by the
// order schema, not here.
type startRequest struct {
	OrderID string   `json:"order_id"`
	Amount  float64  `json:"amount"`
	Items   []string `json:"items"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	items := make([]any, len(req.Items))
	for i, it := range req.Items {
		items[i] = it
	}
	input := map[string]any{
		"order_id": req.OrderID,
		"amount":   req.Amount,
		"items":    items,
	}

	if err := order.ValidateStart(input); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := order.InstanceID(req.OrderID)
	inst, err := s.engine.Start(r.Context(), id, input)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "started",
		"instance_id": inst.ID,
		"accepted":    true,
		"message":     "Workflow is executing. Use /workflow/status/{instance_id} to check progress",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	resp := map[string]any{
		"instance_id":     inst.ID,
		"status":          string(inst.Status),
		"stage":           string(inst.Stage),
		"created_at":      inst.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_updated_at": inst.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if inst.Output != nil {
		resp["output"] = inst.Output
	}
	if inst.Error != "" {
		resp["failure_details"] = inst.Error
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleControl wraps pause, resume and terminate, which share their
// shape: look up by path id, apply, report the resulting status.
// Commands on terminal instances succeed and report the current
// status.
func (s *Server) handleControl(op func(ctx context.Context, id string) (*api.WorkflowInstance, error), verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, err := op(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"instance_id": inst.ID,
			"status":      string(inst.Status),
			"message":     "Workflow has been " + verb,
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.workersAlive != nil && !s.workersAlive() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"reason": "worker pool not running",
		})
		return
	}
	if err := s.engine.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"reason": "store unreachable: " + err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"workflow_runtime": "running",
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "virta order workflow service",
		"workflow": map[string]any{
			"name":                  order.WorkflowName,
			"parallel_activities":   2,
			"sequential_activities": 1,
		},
		"endpoints": map[string]any{
			"start_workflow":     "POST /workflow/start",
			"get_status":         "GET /workflow/status/{instance_id}",
			"pause_workflow":     "POST /workflow/pause/{instance_id}",
			"resume_workflow":    "POST /workflow/resume/{instance_id}",
			"terminate_workflow": "POST /workflow/terminate/{instance_id}",
			"health":             "GET /health",
		},
	})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, api.ErrInstanceNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case api.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		// Store or queue trouble: nothing was persisted, the caller may
		// retry.
		s.logger.Error("engine unavailable", slog.Any("error", err))
		s.writeError(w, http.StatusServiceUnavailable, "engine unavailable: "+err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]any{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", slog.Any("error", err))
	}
}
