package handlers

import (
	"net/http"
	"time"

	"github.com/caseledger/custody-server/internal/auth"
	"github.com/caseledger/custody-server/internal/middleware"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/services"
	"github.com/caseledger/custody-server/internal/validation"
	"go.uber.org/zap"
)

// AuthHandler handles login, logout and the current-user endpoint
type AuthHandler struct {
	provider     *auth.Provider
	svc          *services.Service
	secureCookie bool
	logger       *zap.SugaredLogger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(p *auth.Provider, svc *services.Service, secureCookie bool, logger *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{provider: p, svc: svc, secureCookie: secureCookie, logger: logger}
}

type loginResponse struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Login handles POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	if err := validation.Struct(&req); err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}

	login, err := h.provider.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Warnw("Login failed", "username", req.Username, "ip", middleware.ClientIP(r))
		respondAppError(w, h.logger, r, err)
		return
	}

	user, err := h.svc.RecordLogin(r.Context(), login.Account.User(), middleware.ClientIP(r), r.UserAgent())
	if err != nil {
		_ = h.provider.Logout(r.Context(), login.SessionID)
		respondAppError(w, h.logger, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    login.SessionID,
		Path:     "/",
		Expires:  login.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, loginResponse{User: user, Token: login.Token, ExpiresAt: login.ExpiresAt})
}

// Logout handles POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	if err := h.provider.Logout(r.Context(), middleware.SessionIDFrom(r.Context())); err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	h.svc.RecordLogout(r.Context(), a)

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// User handles GET /api/auth/user
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	u, err := h.svc.Profile(r.Context(), a)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}
