package handlers

import (
	"net/http"
	"strconv"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/authz"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// IntegrityHandler handles Merkle tree verification endpoints
type IntegrityHandler struct {
	svc    *services.MerkleService
	authz  services.Authorizer
	logger *zap.SugaredLogger
}

// NewIntegrityHandler creates a new integrity handler
func NewIntegrityHandler(svc *services.MerkleService, authorizer services.Authorizer, logger *zap.SugaredLogger) *IntegrityHandler {
	return &IntegrityHandler{svc: svc, authz: authorizer, logger: logger}
}

func (h *IntegrityHandler) allowed(w http.ResponseWriter, r *http.Request) bool {
	a, ok := actor(w, r)
	if !ok {
		return false
	}
	if err := h.authz.Authorize(a, authz.ObjIntegrity, authz.ActRead); err != nil {
		respondAppError(w, h.logger, r, err)
		return false
	}
	return true
}

// GetRoot handles GET /api/integrity/root
func (h *IntegrityHandler) GetRoot(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"root":      h.svc.Root(),
		"leafCount": h.svc.LeafCount(),
		"timestamp": h.svc.LastBuildTime(),
	})
}

// GetProof handles GET /api/integrity/proof/{index}
func (h *IntegrityHandler) GetProof(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r) {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondAppError(w, h.logger, r, apperr.ErrInvalidInput.WithMessage("index must be an integer"))
		return
	}

	proof, err := h.svc.Proof(index)
	if err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, proof)
}

// Verify handles POST /api/integrity/verify
func (h *IntegrityHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r) {
		return
	}
	var proof models.MerkleProof
	if err := decodeJSON(w, r, &proof); err != nil {
		respondAppError(w, h.logger, r, err)
		return
	}

	valid := services.VerifyProof(&proof)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":       valid,
		"currentRoot": valid && proof.Root == h.svc.Root(),
	})
}
