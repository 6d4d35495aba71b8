// Package server is the admin/ops HTTP surface: health, runtime status, and
// the join-request intake hook. It never touches verification state directly;
// it reads counters and forwards events.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/doormanhq/doorman/internal/platform"
)

// Status is the /statusz payload.
type Status struct {
	Uptime        string `json:"uptime"`
	Algorithm     string `json:"rate_limit_algorithm"`
	Quizzes       int    `json:"quizzes"`
	LaneDepths    []int  `json:"lane_depths"`
	JobsProcessed uint64 `json:"jobs_processed"`
	JobsFailed    uint64 `json:"jobs_failed"`
	CleanupQueue  int    `json:"cleanup_queue"`
	TimeoutQueue  int    `json:"timeout_queue"`
}

// Server hosts the admin endpoints.
type Server struct {
	http   *http.Server
	status func() Status
	events platform.Events
}

// New builds the admin server. events receives join requests posted to the
// intake hook; pass nil to disable intake.
func New(bind string, status func() Status, events platform.Events) *Server {
	s := &Server{status: status, events: events}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLimit(20, 40))
	r.Get("/healthz", s.handleHealth)
	r.Get("/statusz", s.handleStatus)
	r.Post("/hooks/join-request", s.handleJoinRequest)
	s.http = &http.Server{
		Addr:              bind,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start blocks serving until Shutdown or a listener error.
func (s *Server) Start() error {
	slog.Info("admin server listening", "bind", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		slog.Warn("encode status", "error", err)
	}
}

// joinRequestBody is the intake-hook payload. The hook exists because the
// bound Telegram poller predates chat_join_request updates; an external
// relay (or an operator) posts them here instead.
type joinRequestBody struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

func (s *Server) handleJoinRequest(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "join-request intake disabled", http.StatusServiceUnavailable)
		return
	}
	var body joinRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed join request body", http.StatusBadRequest)
		return
	}
	if body.ChatID == 0 || body.UserID == 0 {
		http.Error(w, "chat_id and user_id are required", http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		body.Name = strconv.FormatInt(body.UserID, 10)
	}
	s.events.JoinRequested(body.ChatID, body.UserID, body.Name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"accepted"}`))
}
