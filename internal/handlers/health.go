package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/services"
	"go.uber.org/zap"
)

// Version is reported by the health endpoints; overridden at link time.
var Version = "dev"

var startTime = time.Now()

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints
type HealthHandler struct {
	db       Pinger
	sessions Pinger
	merkle   *services.MerkleService
	logger   *zap.SugaredLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db, sessions Pinger, merkle *services.MerkleService, logger *zap.SugaredLogger) *HealthHandler {
	return &HealthHandler{db: db, sessions: sessions, merkle: merkle, logger: logger}
}

// Check handles GET /api/health (liveness probe)
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:     "ok",
		Version:    Version,
		Uptime:     time.Since(startTime).String(),
		MerkleRoot: h.merkle.Root(),
	})
}

// Ready handles GET /api/health/ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warnw("Readiness check failed", "dependency", "database", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, models.HealthStatus{
			Status:   "not ready",
			Version:  Version,
			Database: "disconnected",
		})
		return
	}
	if err := h.sessions.Ping(ctx); err != nil {
		h.logger.Warnw("Readiness check failed", "dependency", "sessions", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, models.HealthStatus{
			Status:   "not ready",
			Version:  Version,
			Database: "connected",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:     "ready",
		Version:    Version,
		Uptime:     time.Since(startTime).String(),
		Database:   "connected",
		MerkleRoot: h.merkle.Root(),
	})
}
