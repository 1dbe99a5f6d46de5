// Package handlers contains HTTP request handlers for the custody API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/middleware"
	"github.com/caseledger/custody-server/internal/models"
	"go.uber.org/zap"
)

const maxBodyBytes = 8 << 20

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondAppError maps a service error onto its status code. INTERNAL
// errors are logged in full and answered with a generic message.
func respondAppError(w http.ResponseWriter, logger *zap.SugaredLogger, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if kind == apperr.KindInternal {
		logger.Errorw("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	body := map[string]any{"error": apperr.PublicMessage(err), "code": kind}
	var ae *apperr.Error
	if errors.As(err, &ae) && kind != apperr.KindInternal {
		for k, v := range ae.Details {
			body[k] = v
		}
	}
	respondJSON(w, status, body)
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.ErrInvalidInput.WithMessage("request body is required")
		}
		return apperr.ErrInvalidInput.Wrap(err, "invalid request body")
	}
	return nil
}

// actor returns the authenticated actor or answers 401.
func actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	a, ok := middleware.ActorFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
	}
	return a, ok
}
