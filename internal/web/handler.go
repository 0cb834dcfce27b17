// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

// Package web is the HTTP boundary: account forms in, JSON out, with the
// session token carried in an HttpOnly cookie.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/zenithweb/zenith/internal/auth"
	"github.com/zenithweb/zenith/internal/observability"
)

// SessionCookieName carries the session token between requests.
const SessionCookieName = "sid"

// Handler serves the account endpoints.
type Handler struct {
	service    *auth.Service
	sessionTTL time.Duration
	secure     bool
	logger     *slog.Logger
}

// NewHandler creates a Handler. secure controls the cookie Secure flag and
// should be true everywhere except local development over plain HTTP.
func NewHandler(service *auth.Service, sessionTTL time.Duration, secure bool, logger *slog.Logger) *Handler {
	if sessionTTL <= 0 {
		sessionTTL = auth.DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		service:    service,
		sessionTTL: sessionTTL,
		secure:     secure,
		logger:     logger,
	}
}

// Routes builds the request mux. ws, when non-nil, is mounted at /ws.
func (h *Handler) Routes(ws http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleHome)
	mux.HandleFunc("POST /register", h.handleRegister)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("POST /logout", h.handleLogout)
	if ws != nil {
		mux.Handle("GET /ws", ws)
	}
	return mux
}

// fieldError is the error payload; field is empty for whole-request errors.
type fieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error fieldError `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, field, message string) {
	h.writeJSON(w, status, errorResponse{Error: fieldError{Field: field, Message: message}})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "", "malformed form data")
		return
	}
	name := r.PostFormValue("name")
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	user, err := h.service.Register(r.Context(), name, email, password)
	if err != nil {
		observability.RecordRegistration("failed")
		h.writeRegisterError(w, err)
		return
	}

	observability.RecordRegistration("ok")
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"uid":  user.ID,
		"name": user.Name,
	})
}

// writeRegisterError maps registration failures onto field-scoped payloads so
// the form can highlight the offending input.
func (h *Handler) writeRegisterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrNameTaken):
		h.writeError(w, http.StatusConflict, "name", "name is already taken")
	case errors.Is(err, auth.ErrEmailTaken):
		h.writeError(w, http.StatusConflict, "email", "email is already taken")
	case errors.Is(err, auth.ErrEmptyPassword):
		h.writeError(w, http.StatusBadRequest, "password", "password cannot be empty")
	default:
		if oopsErr, ok := oops.AsOops(err); ok {
			switch oopsErr.Code() {
			case "AUTH_INVALID_USERNAME":
				h.writeError(w, http.StatusBadRequest, "name", err.Error())
				return
			case "AUTH_INVALID_EMAIL":
				h.writeError(w, http.StatusBadRequest, "email", err.Error())
				return
			}
		}
		h.logger.Error("registration failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "", "internal error")
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "", "malformed form data")
		return
	}
	identifier := r.PostFormValue("name")
	password := r.PostFormValue("password")

	user, token, err := h.service.Login(r.Context(), identifier, password)
	if err != nil {
		observability.RecordLogin("failed")
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, "", "invalid name or password")
			return
		}
		h.logger.Error("login failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "", "internal error")
		return
	}

	observability.RecordLogin("ok")
	http.SetCookie(w, h.sessionCookie(token, h.sessionTTL))
	h.writeJSON(w, http.StatusOK, map[string]any{
		"uid":  user.ID,
		"name": user.Name,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Error("logout failed", "error", err)
		}
	}

	// Expire the cookie regardless; an unknown token is already logged out.
	http.SetCookie(w, h.sessionCookie("", -time.Second))
	w.WriteHeader(http.StatusNoContent)
}

// handleHome reports whether the request carries a live session. The real
// site serves pages here; this boundary only exposes the identity state the
// pages would render from.
func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	user, err := h.service.Authenticate(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			h.logger.Error("session check failed", "error", err)
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"uid":           user.ID,
		"name":          user.Name,
		"level":         user.Level,
	})
}

// sessionCookie builds the sid cookie. A non-positive maxAge expires it.
func (h *Handler) sessionCookie(token string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
