package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"i4.energy/across/modemchat/modem"
)

// Runner runs chat scripts. *modem.Chat implements it.
type Runner interface {
	RunWait(ctx context.Context, s *modem.Script) (modem.Result, error)
	Running() bool
	State() modem.State
}

// Server handles incoming HTTP requests for running scripts of the book on
// the configured chat instance
type Server struct {
	Logger *slog.Logger
	Chat   Runner
	Book   *Book
	// Limiter throttles script runs; nil disables throttling
	Limiter *rate.Limiter
	// Gatherer is served on /metrics when not nil
	Gatherer prometheus.Gatherer
	// Token, when set, must be presented as a bearer token to run scripts
	Token string

	once sync.Once
	mux  *http.ServeMux
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		s.mux = http.NewServeMux()
		s.mux.HandleFunc("GET /healthz", s.handleHealth)
		s.mux.HandleFunc("GET /status", s.handleStatus)
		s.mux.HandleFunc("GET /scripts", s.handleList)
		s.mux.HandleFunc("POST /scripts/{name}", s.handleRun)
		if s.Gatherer != nil {
			s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
		}
	})
	s.mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type StatusResponse struct {
		Running bool   `json:"running"`
		State   string `json:"state"`
	}
	s.sendJSON(w, StatusResponse{
		Running: s.Chat.Running(),
		State:   s.Chat.State().String(),
	}, http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	type ListResponse struct {
		Scripts []string `json:"scripts"`
	}
	s.sendJSON(w, ListResponse{Scripts: s.Book.Names()}, http.StatusOK)
}

// handleRun runs a script of the book and waits for its result
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	name := r.PathValue("name")
	transcript := &Transcript{}
	script, err := s.Book.Script(name, transcript)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusNotFound)
		return
	}

	if s.Limiter != nil && !s.Limiter.Allow() {
		s.sendError(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	id := uuid.New()
	logger := s.Logger.With("run_id", id.String(), "script", name)

	result, err := s.Chat.RunWait(r.Context(), script)
	switch {
	case errors.Is(err, modem.ErrBusy):
		s.sendError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, modem.ErrNotAttached):
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		// The client went away; the script has been aborted.
		logger.Warn("Script run cancelled", "error", err)
		return
	}

	logger.Info("Script run finished", "result", result)

	type RunResponse struct {
		ID       uuid.UUID `json:"id"`
		Script   string    `json:"script"`
		Result   string    `json:"result"`
		Captures []Capture `json:"captures"`
	}
	s.sendJSON(w, RunResponse{
		ID:       id,
		Script:   name,
		Result:   result.String(),
		Captures: transcript.Captures(),
	}, http.StatusOK)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.Token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && token == s.Token
}
