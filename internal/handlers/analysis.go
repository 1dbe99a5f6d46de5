package handlers

import (
	"net/http"
	"strconv"

	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/services"
	"go.uber.org/zap"
)

// AnalysisHandler handles analysis submissions and the audit log
type AnalysisHandler struct {
	svc    *services.Service
	logger *zap.SugaredLogger
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(svc *services.Service, logger *zap.SugaredLogger) *AnalysisHandler {
	return &AnalysisHandler{svc: svc, logger: logger}
}

// Create handles POST /api/analysis
func (h *AnalysisHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.CreateAnalysisRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	res, err := h.svc.CreateAnalysis(r.Context(), a, &req)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"message": "Analysis result saved",
		"id":      res.ID,
	})
}

// AuditLogs handles GET /api/audit-logs?limit=
func (h *AnalysisHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	// Missing, unparsable or non-positive limits fall back to the default.
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.svc.AuditLogs(r.Context(), a, limit)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}
