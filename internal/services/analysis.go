package services

import (
	"context"
	"errors"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/audit"
	"github.com/caseledger/custody-server/internal/authz"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/validation"
	"github.com/google/uuid"
)

// CreateAnalysis stores a forensic module's output. The referenced
// evidence, when given, must belong to the case.
func (s *Service) CreateAnalysis(ctx context.Context, actor models.Actor, req *models.CreateAnalysisRequest) (*models.AnalysisResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(actor, authz.ObjAnalysis, authz.ActCreate); err != nil {
		return nil, err
	}

	c, err := s.store.GetCase(ctx, req.CaseID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrNotFound.WithMessage("case not found")
	}
	if err != nil {
		return nil, s.storeErr(err, "failed to load case")
	}
	if req.EvidenceID != nil && *req.EvidenceID != "" {
		ev, err := s.store.GetEvidence(ctx, *req.EvidenceID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrNotFound.WithMessage("evidence not found")
		}
		if err != nil {
			return nil, s.storeErr(err, "failed to load evidence")
		}
		if ev.CaseID != c.ID {
			return nil, apperr.ErrInvalidInput.WithMessage("evidence does not belong to case")
		}
	} else {
		req.EvidenceID = nil
	}

	now := s.clock()
	r := &models.AnalysisResult{
		ID:           uuid.NewString(),
		CaseID:       c.ID,
		EvidenceID:   req.EvidenceID,
		ModuleType:   req.ModuleType,
		AnalysisType: req.AnalysisType,
		Results:      req.Results,
		Confidence:   req.Confidence,
		Flagged:      req.Flagged != nil && *req.Flagged,
		AnalyzedBy:   actor.UserID,
		AnalyzedAt:   now,
		CreatedAt:    now,
	}
	if err := s.store.CreateAnalysisResult(ctx, r); err != nil {
		return nil, s.storeErr(err, "failed to store analysis result")
	}

	s.audit.Log(ctx, actor, audit.ActionPerformedAnalysis, audit.ResourceAnalysis, r.ID, map[string]any{
		"moduleType":   r.ModuleType,
		"analysisType": r.AnalysisType,
		"caseId":       r.CaseID,
		"evidenceId":   r.EvidenceID,
	})
	return r, nil
}

// ListAnalysis returns a case's analysis history, newest first.
func (s *Service) ListAnalysis(ctx context.Context, actor models.Actor, caseID string) ([]models.AnalysisResult, error) {
	if err := s.authz.Authorize(actor, authz.ObjAnalysis, authz.ActRead); err != nil {
		return nil, err
	}
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, s.storeErr(err, "failed to load case")
	}
	results, err := s.store.ListAnalysisResults(ctx, c.ID)
	if err != nil {
		return nil, s.storeErr(err, "failed to list analysis results")
	}
	s.audit.Log(ctx, actor, audit.ActionViewedAnalysis, audit.ResourceCase, c.ID, map[string]any{"count": len(results)})
	return results, nil
}
