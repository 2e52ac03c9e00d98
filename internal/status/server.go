// Package status serves the optional diagnostics HTTP endpoint: a
// liveness probe and a JSON snapshot of the bot's day.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eniggman/geminigram/internal/activity"
)

// Snapshot is the /status payload.
type Snapshot struct {
	Uptime       string          `json:"uptime"`
	StartedAt    time.Time       `json:"started_at"`
	ActiveUsers  int             `json:"active_users"`
	ActionsToday int             `json:"actions_today"`
	ByAction     map[string]int  `json:"by_action,omitempty"`
	ErrorsTotal  int             `json:"errors_total"`
	LastErrors   []errorResponse `json:"last_errors,omitempty"`
}

type errorResponse struct {
	Time   string `json:"time"`
	Type   string `json:"type"`
	Msg    string `json:"msg"`
	UserID int64  `json:"user,omitempty"`
}

// SessionCounter reports how many sessions are currently live.
type SessionCounter interface {
	Len() int
}

// Server exposes GET /health and GET /status.
type Server struct {
	log      *activity.Log
	sessions SessionCounter
	started  time.Time
	mux      *http.ServeMux
}

// NewServer builds the handler. The session counter may be nil.
func NewServer(log *activity.Log, sessions SessionCounter) *Server {
	s := &Server{
		log:      log,
		sessions: sessions,
		started:  time.Now(),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot(time.Now()))
}

func (s *Server) snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		Uptime:    now.Sub(s.started).Round(time.Second).String(),
		StartedAt: s.started,
	}
	if s.sessions != nil {
		snap.ActiveUsers = s.sessions.Len()
	}
	if s.log == nil {
		return snap
	}

	entries := s.log.Today()
	snap.ActionsToday = len(entries)
	if len(entries) > 0 {
		snap.ByAction = make(map[string]int)
		for _, e := range entries {
			snap.ByAction[e.Action]++
		}
	}

	errs, total := s.log.Errors()
	snap.ErrorsTotal = total
	for _, e := range errs {
		snap.LastErrors = append(snap.LastErrors, errorResponse{
			Time:   e.Time.Format(time.RFC3339),
			Type:   e.Type,
			Msg:    e.Msg,
			UserID: e.UserID,
		})
	}
	return snap
}

// Run serves on addr until the context is cancelled.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("status server shutdown", "error", err)
		}
	}()

	slog.Info("status server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
