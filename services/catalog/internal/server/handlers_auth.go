package server

import (
	"errors"
	"net/http"

	"vidarchive/pkg/domain"
	"vidarchive/services/catalog/internal/app"
	"vidarchive/services/catalog/internal/security"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func writeSession(w http.ResponseWriter, status int, user domain.User, token string) {
	writeJSON(w, status, map[string]any{
		"status": "success",
		"token":  token,
		"data":   map[string]any{"user": user},
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, security.EventRegister, "rate_limited")
		return
	}
	var req app.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, security.EventRegister, "fail", "reason", "invalid_json")
		writeAppError(w, r, err)
		return
	}
	user, token, err := s.app.Register(r.Context(), req)
	if err != nil {
		s.audit(r, security.EventRegister, "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventRegister, "success", "user_id", user.ID, "role", string(user.Role))
	writeSession(w, http.StatusCreated, user, token)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, security.EventLogin, "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, security.EventLogin, "fail", "reason", "invalid_json")
		writeAppError(w, r, err)
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		reason := "error"
		if errors.Is(err, app.ErrInvalidCredentials) {
			reason = "invalid_credentials"
		}
		s.audit(r, security.EventLogin, "fail", "reason", reason)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventLogin, "success", "user_id", user.ID)
	writeSession(w, http.StatusOK, user, token)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	token, _ := bearerToken(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, security.EventLogout, "fail", "user_id", user.ID)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventLogout, "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "Logged out successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeData(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	users, err := s.app.ListUsers(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(users),
		"data":    map[string]any{"users": users},
	})
}
