package services

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/audit"
	"github.com/caseledger/custody-server/internal/authz"
	"github.com/caseledger/custody-server/internal/custody"
	"github.com/caseledger/custody-server/internal/digest"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/validation"
	"github.com/google/uuid"
)

const evidenceRoot = "/evidence"

// ListEvidence returns all evidence, or one case's when caseID is set.
// An unknown caseID yields an empty list.
func (s *Service) ListEvidence(ctx context.Context, actor models.Actor, caseID string) ([]models.Evidence, error) {
	if err := s.authz.Authorize(actor, authz.ObjEvidence, authz.ActRead); err != nil {
		return nil, err
	}
	items, err := s.store.ListEvidence(ctx, caseID)
	if err != nil {
		return nil, s.storeErr(err, "failed to list evidence")
	}
	s.audit.Log(ctx, actor, audit.ActionViewedEvidence, audit.ResourceEvidence, "", map[string]any{
		"caseId": caseID,
		"count":  len(items),
	})
	return items, nil
}

// GetEvidence returns one evidence item.
func (s *Service) GetEvidence(ctx context.Context, actor models.Actor, id string) (*models.Evidence, error) {
	if err := s.authz.Authorize(actor, authz.ObjEvidence, authz.ActRead); err != nil {
		return nil, err
	}
	ev, err := s.store.GetEvidence(ctx, id)
	if err != nil {
		return nil, s.storeErr(err, "failed to load evidence")
	}
	s.audit.Log(ctx, actor, audit.ActionViewedEvidence, audit.ResourceEvidence, ev.ID, map[string]any{
		"evidenceNumber": ev.EvidenceNumber,
	})
	return ev, nil
}

// CreateEvidence registers an evidence item. The row, its "collected"
// custody entry and the uploaded_evidence audit row commit together.
func (s *Service) CreateEvidence(ctx context.Context, actor models.Actor, req *models.CreateEvidenceRequest) (*models.Evidence, error) {
	req.EvidenceNumber = strings.TrimSpace(req.EvidenceNumber)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(actor, authz.ObjEvidence, authz.ActCreate); err != nil {
		return nil, err
	}

	c, err := s.store.GetCase(ctx, req.CaseID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrNotFound.WithMessage("case not found")
	}
	if err != nil {
		return nil, s.storeErr(err, "failed to load case")
	}

	dir := path.Join(evidenceRoot, c.ID)
	filePath := path.Join(dir, req.FileName)
	if path.Dir(filePath) != dir {
		return nil, apperr.ErrInvalidInput.WithMessage("fileName must be a plain file name")
	}

	hashed, size := req.FileName, int64(0)
	if req.FileContent != nil && *req.FileContent != "" {
		hashed, size = *req.FileContent, int64(len(*req.FileContent))
	}

	now := s.clock()
	collectedAt := now
	if req.CollectedAt != nil {
		collectedAt = req.CollectedAt.UTC().Truncate(time.Microsecond)
	}

	ev := &models.Evidence{
		ID:             uuid.NewString(),
		CaseID:         c.ID,
		EvidenceNumber: req.EvidenceNumber,
		Type:           req.Type,
		FileName:       req.FileName,
		FileSize:       &size,
		FilePath:       &filePath,
		SHA256Hash:     digest.String(hashed),
		Description:    req.Description,
		CollectedBy:    actor.UserID,
		CollectedAt:    collectedAt,
		CreatedAt:      now,
	}
	genesis := custody.Genesis(ev, actor, now)
	row := s.audit.Entry(actor, audit.ActionUploadedEvidence, audit.ResourceEvidence, ev.ID, map[string]any{
		"evidenceNumber": ev.EvidenceNumber,
		"fileName":       ev.FileName,
		"caseId":         ev.CaseID,
	})

	if err := s.store.CreateEvidence(ctx, ev, genesis, custody.Seal, row); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrNotFound.WithMessage("case not found")
		}
		return nil, s.storeErr(err, "failed to create evidence")
	}

	s.logger.Infow("Evidence registered",
		"evidence_id", ev.ID,
		"case_id", ev.CaseID,
		"sha256", ev.SHA256Hash,
		"user_id", actor.UserID,
	)
	return ev, nil
}
