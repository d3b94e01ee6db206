package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"time"

	"eventcal/internal/service"
)

//go:embed calendar.html
var calendarPage []byte

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	// SyncEnabled is reported to clients so they can show or hide the sync checkbox.
	SyncEnabled bool
	// SyncProvider is the display name of the external calendar.
	SyncProvider string
}

type Server struct {
	logger *slog.Logger
	events *service.EventService
	users  *service.UserService
	health Pinger
	opts   Options
	mux    *http.ServeMux
}

func NewServer(logger *slog.Logger, events *service.EventService, users *service.UserService, health Pinger, opts Options) *Server {
	s := &Server{
		logger: logger,
		events: events,
		users:  users,
		health: health,
		opts:   opts,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Identity
	s.mux.HandleFunc("POST /register", s.handleRegister)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("GET /logout", s.basicAuth(s.handleLogout))
	s.mux.HandleFunc("POST /logout", s.basicAuth(s.handleLogout))

	// Pages and feeds
	s.mux.HandleFunc("GET /{$}", s.basicAuth(s.handleDashboard))
	s.mux.HandleFunc("GET /calendar", s.basicAuth(s.handleCalendar))
	s.mux.HandleFunc("GET /events/json", s.basicAuth(s.handleEventsJSON))

	// Events
	s.mux.HandleFunc("GET /event/create", s.basicAuth(s.handleCreateForm))
	s.mux.HandleFunc("POST /event/create", s.basicAuth(s.handleCreate))
	s.mux.HandleFunc("GET /event/{id}", s.basicAuth(s.handleDetail))
	s.mux.HandleFunc("GET /event/{id}/update", s.basicAuth(s.handleUpdateForm))
	s.mux.HandleFunc("POST /event/{id}/update", s.basicAuth(s.handleUpdate))
	s.mux.HandleFunc("GET /event/{id}/delete", s.basicAuth(s.handleDeleteConfirm))
	s.mux.HandleFunc("POST /event/{id}/delete", s.basicAuth(s.handleDelete))
	s.mux.HandleFunc("POST /event/{id}/trigger-reminder", s.basicAuth(s.handleTriggerReminder))
}

// Handler returns the router wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Error("Health check failed", "error", err)
			jsonError(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	jsonResponse(w, http.StatusOK, APIResponse{Success: true, Message: "ok"})
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(calendarPage)
}
