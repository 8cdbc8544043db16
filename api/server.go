// Package api exposes the trigger, producer and approval surfaces
// over HTTP. Authentication is a shared-secret header; anything
// richer belongs to an outer gateway.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freundallein/taskgate/approval"
	log "github.com/freundallein/taskgate/chassis/logging"
	"github.com/freundallein/taskgate/chassis/storage"
	"github.com/freundallein/taskgate/dispatcher"
)

const tokenHeader = "X-Api-Token"

// Config ...
type Config struct {
	Repository storage.TaskRepository
	Gate       *approval.Gate
	Dispatcher *dispatcher.Service
	Token      string
}

// Server ...
type Server struct {
	cfg Config
}

// NewRouter wires all routes. /healthz and /metrics stay open; the
// /api/v0 tree requires the shared secret.
func NewRouter(cfg Config) *mux.Router {
	srv := &Server{cfg: cfg}
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", srv.handleHealth).Methods(http.MethodGet)

	v0 := router.PathPrefix("/api/v0").Subrouter()
	v0.Use(srv.authMiddleware)
	v0.HandleFunc("/dispatch", srv.handleDispatch).Methods(http.MethodPost)
	v0.HandleFunc("/tasks", srv.handleCreateTask).Methods(http.MethodPost)
	v0.HandleFunc("/tasks/{id}", srv.handleGetTask).Methods(http.MethodGet)
	v0.HandleFunc("/tasks/{id}/approve", srv.handleApprove).Methods(http.MethodPost)
	v0.HandleFunc("/tasks/{id}/reject", srv.handleReject).Methods(http.MethodPost)
	return router
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" || r.Header.Get(tokenHeader) != s.cfg.Token {
			respondError(w, http.StatusUnauthorized, "invalid api token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	summary, err := s.cfg.Dispatcher.PollAndExecute(r.Context())
	if err != nil {
		log.WithFields(log.Fields{
			"event": "manual_dispatch_failed",
		}).Error(err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

type createTaskRequest struct {
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	AssignedHandler  string            `json:"assigned_handler"`
	Priority         string            `json:"priority"`
	RequiresApproval bool              `json:"requires_approval"`
	Metadata         map[string]string `json:"metadata"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if req.Title == "" || req.AssignedHandler == "" {
		respondError(w, http.StatusBadRequest, "title and assigned_handler are required")
		return
	}
	priority, ok := parsePriority(req.Priority)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown priority: "+req.Priority)
		return
	}
	task := storage.NewTask(req.Title, req.AssignedHandler, priority, req.RequiresApproval, req.Metadata)
	task.Description = req.Description
	if err := s.cfg.Repository.Create(r.Context(), task); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.WithFields(log.Fields{
		"event":   "task_created",
		"taskID":  task.ID,
		"handler": task.AssignedHandler,
	}).Info("task submitted")
	respondJSON(w, http.StatusCreated, taskToView(task))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.cfg.Repository.Get(r.Context(), id)
	if errors.Is(err, storage.ErrTaskNotFound) {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, taskToView(task))
}

type decisionRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approver == "" {
		respondError(w, http.StatusBadRequest, "approver is required")
		return
	}
	task, err := s.cfg.Gate.Approve(r.Context(), id, req.Approver)
	if err != nil {
		respondDecisionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, taskToView(task))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approver == "" {
		respondError(w, http.StatusBadRequest, "approver is required")
		return
	}
	task, err := s.cfg.Gate.Reject(r.Context(), id, req.Approver, req.Reason)
	if err != nil {
		respondDecisionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, taskToView(task))
}

func respondDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, approval.ErrAlreadyDecided):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func parsePriority(raw string) (storage.Priority, bool) {
	switch storage.Priority(raw) {
	case storage.LOW, storage.MEDIUM, storage.HIGH, storage.URGENT:
		return storage.Priority(raw), true
	case "":
		return storage.MEDIUM, true
	default:
		return "", false
	}
}
