package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HeaderContentSHA256 carries the digest of a rendered report.
const HeaderContentSHA256 = "X-Content-SHA256"

// EvidenceHandler handles evidence and chain-of-custody endpoints
type EvidenceHandler struct {
	svc    *services.Service
	logger *zap.SugaredLogger
}

// NewEvidenceHandler creates a new evidence handler
func NewEvidenceHandler(svc *services.Service, logger *zap.SugaredLogger) *EvidenceHandler {
	return &EvidenceHandler{svc: svc, logger: logger}
}

// List handles GET /api/evidence?caseId=
func (h *EvidenceHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListEvidence(r.Context(), a, r.URL.Query().Get("caseId"))
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// Get handles GET /api/evidence/{id}
func (h *EvidenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	ev, err := h.svc.GetEvidence(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

// Create handles POST /api/evidence
func (h *EvidenceHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.CreateEvidenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	ev, err := h.svc.CreateEvidence(r.Context(), a, &req)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

// Custody handles GET /api/evidence/{id}/custody
func (h *EvidenceHandler) Custody(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	chain, err := h.svc.CustodyChain(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, chain)
}

// AddCustody handles POST /api/evidence/{id}/custody
func (h *EvidenceHandler) AddCustody(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.AddCustodyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	entry, err := h.svc.AddCustodyEntry(r.Context(), a, chi.URLParam(r, "id"), &req)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

// VerifyCustody handles GET /api/evidence/{id}/custody/verify
func (h *EvidenceHandler) VerifyCustody(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	v, err := h.svc.VerifyCustody(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// CustodyReport handles GET /api/evidence/{id}/custody/report.pdf
func (h *EvidenceHandler) CustodyReport(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	pdf, err := h.svc.CustodyReport(r.Context(), a, id)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf.Content)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="custody-%s.pdf"`, id))
	w.Header().Set(HeaderContentSHA256, pdf.SHA256)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf.Content)
}
