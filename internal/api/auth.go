package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"eventcal/internal/models"
	"eventcal/internal/service"
)

type contextKey struct{}

// UserFromContext returns the authenticated user set by basicAuth.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(contextKey{}).(*models.User)
	return u
}

func withUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// basicAuth resolves the user from Basic credentials and stores it in the request context.
func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			unauthorized(w)
			return
		}
		user, err := s.users.Authenticate(r.Context(), username, password)
		if errors.Is(err, service.ErrInvalidCredentials) {
			unauthorized(w)
			return
		}
		if err != nil {
			s.logger.Error("Failed to authenticate request", "error", err)
			jsonError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		next(w, r.WithContext(withUser(r.Context(), user)))
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="eventcal"`)
	jsonError(w, "Unauthorized", http.StatusUnauthorized)
}

func decodeCredentials(r *http.Request) (service.Credentials, error) {
	var creds service.Credentials
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			return creds, fmt.Errorf("invalid JSON: %w", err)
		}
		return creds, nil
	}
	if err := r.ParseForm(); err != nil {
		return creds, fmt.Errorf("invalid form: %w", err)
	}
	creds.Username = r.PostFormValue("username")
	creds.Password = r.PostFormValue("password")
	return creds, nil
}

// POST /register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := s.users.Register(r.Context(), creds)
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonResponse(w, http.StatusBadRequest, APIResponse{Success: false, Error: "invalid input", Fields: verr.Fields})
		return
	case errors.Is(err, service.ErrUsernameTaken):
		jsonResponse(w, http.StatusConflict, APIResponse{
			Success: false,
			Error:   err.Error(),
			Fields:  map[string]string{"username": "A user with that username already exists."},
		})
		return
	case err != nil:
		s.logger.Error("Failed to register user", "error", err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("User registered", "userID", user.ID, "username", user.Username)
	jsonResponse(w, http.StatusCreated, APIResponse{
		Success: true,
		Message: fmt.Sprintf("Account created for %s!", user.Username),
		Data:    map[string]any{"id": user.ID, "username": user.Username},
	})
}

// POST /login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := s.users.Authenticate(r.Context(), creds.Username, creds.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		jsonError(w, "Invalid username or password.", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.logger.Error("Failed to log in", "error", err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	jsonResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Message: fmt.Sprintf("Welcome back, %s!", user.Username),
		Data:    map[string]any{"id": user.ID, "username": user.Username},
	})
}

// GET|POST /logout. Credentials are per request, so there is no session to end.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, APIResponse{Success: true, Message: "You have been logged out."})
}
