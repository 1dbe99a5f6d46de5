package handlers

import (
	"net/http"

	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CaseHandler handles case endpoints and dashboard stats
type CaseHandler struct {
	svc    *services.Service
	logger *zap.SugaredLogger
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(svc *services.Service, logger *zap.SugaredLogger) *CaseHandler {
	return &CaseHandler{svc: svc, logger: logger}
}

// Stats handles GET /api/stats
func (h *CaseHandler) Stats(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	st, err := h.svc.Stats(r.Context(), a)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// List handles GET /api/cases
func (h *CaseHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	cases, err := h.svc.ListCases(r.Context(), a)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cases)
}

// Get handles GET /api/cases/{id}
func (h *CaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	c, err := h.svc.GetCase(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Create handles POST /api/cases
func (h *CaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.CreateCaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	c, err := h.svc.CreateCase(r.Context(), a, &req)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// UpdateStatus handles PATCH /api/cases/{id}/status
func (h *CaseHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.UpdateCaseStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	c, err := h.svc.UpdateCaseStatus(r.Context(), a, chi.URLParam(r, "id"), &req)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Delete handles DELETE /api/cases/{id}
func (h *CaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteCase(r.Context(), a, chi.URLParam(r, "id")); err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Analysis handles GET /api/cases/{id}/analysis
func (h *CaseHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	results, err := h.svc.ListAnalysis(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}
