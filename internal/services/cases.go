package services

import (
	"context"
	"errors"
	"strings"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/audit"
	"github.com/caseledger/custody-server/internal/authz"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/validation"
	"github.com/google/uuid"
)

// ListCases returns every case, newest first.
func (s *Service) ListCases(ctx context.Context, actor models.Actor) ([]models.Case, error) {
	if err := s.authz.Authorize(actor, authz.ObjCase, authz.ActRead); err != nil {
		return nil, err
	}
	cases, err := s.store.ListCases(ctx)
	if err != nil {
		return nil, s.storeErr(err, "failed to list cases")
	}
	s.audit.Log(ctx, actor, audit.ActionViewedCases, audit.ResourceCase, "", map[string]any{"count": len(cases)})
	return cases, nil
}

// GetCase returns one case.
func (s *Service) GetCase(ctx context.Context, actor models.Actor, id string) (*models.Case, error) {
	if err := s.authz.Authorize(actor, authz.ObjCase, authz.ActRead); err != nil {
		return nil, err
	}
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return nil, s.storeErr(err, "failed to load case")
	}
	s.audit.Log(ctx, actor, audit.ActionViewedCase, audit.ResourceCase, c.ID, map[string]any{"caseNumber": c.CaseNumber})
	return c, nil
}

// CreateCase opens a case owned by the actor. Status defaults to open and
// priority to medium.
func (s *Service) CreateCase(ctx context.Context, actor models.Actor, req *models.CreateCaseRequest) (*models.Case, error) {
	req.CaseNumber = strings.TrimSpace(req.CaseNumber)
	req.Title = strings.TrimSpace(req.Title)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(actor, authz.ObjCase, authz.ActCreate); err != nil {
		return nil, err
	}

	now := s.clock()
	c := &models.Case{
		ID:           uuid.NewString(),
		CaseNumber:   req.CaseNumber,
		Title:        req.Title,
		Description:  req.Description,
		Status:       req.Status,
		Priority:     req.Priority,
		AssignedToID: req.AssignedToID,
		CreatedByID:  actor.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if c.Status == "" {
		c.Status = models.StatusOpen
	}
	if c.Priority == "" {
		c.Priority = models.PriorityMedium
	}

	if err := s.store.CreateCase(ctx, c); err != nil {
		switch {
		case errors.Is(err, apperr.ErrConflict):
			return nil, apperr.ErrConflict.WithMessagef("case number %q already exists", c.CaseNumber)
		case errors.Is(err, apperr.ErrNotFound):
			return nil, apperr.ErrNotFound.WithMessage("assigned user not found")
		}
		return nil, s.storeErr(err, "failed to create case")
	}

	s.audit.Log(ctx, actor, audit.ActionCreatedCase, audit.ResourceCase, c.ID, map[string]any{
		"caseNumber": c.CaseNumber,
		"title":      c.Title,
	})
	s.logger.Infow("Case created", "case_id", c.ID, "case_number", c.CaseNumber, "user_id", actor.UserID)
	return c, nil
}

// UpdateCaseStatus moves a case to any status. Concurrent updates are last
// writer wins.
func (s *Service) UpdateCaseStatus(ctx context.Context, actor models.Actor, id string, req *models.UpdateCaseStatusRequest) (*models.Case, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(actor, authz.ObjCase, authz.ActUpdateStatus); err != nil {
		return nil, err
	}

	before, err := s.store.GetCase(ctx, id)
	if err != nil {
		return nil, s.storeErr(err, "failed to load case")
	}
	updated, err := s.store.UpdateCaseStatus(ctx, id, req.Status, s.clock())
	if err != nil {
		return nil, s.storeErr(err, "failed to update case status")
	}

	s.audit.Log(ctx, actor, audit.ActionUpdatedCaseStatus, audit.ResourceCase, updated.ID, map[string]any{
		"caseNumber":     updated.CaseNumber,
		"previousStatus": before.Status,
		"newStatus":      updated.Status,
	})
	return updated, nil
}

// DeleteCase removes a case together with its evidence, custody and analyses.
func (s *Service) DeleteCase(ctx context.Context, actor models.Actor, id string) error {
	if err := s.authz.Authorize(actor, authz.ObjCase, authz.ActDelete); err != nil {
		return err
	}
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return s.storeErr(err, "failed to load case")
	}
	if err := s.store.DeleteCase(ctx, id); err != nil {
		return s.storeErr(err, "failed to delete case")
	}

	s.audit.Log(ctx, actor, audit.ActionDeletedCase, audit.ResourceCase, c.ID, map[string]any{"caseNumber": c.CaseNumber})
	s.logger.Warnw("Case deleted", "case_id", c.ID, "case_number", c.CaseNumber, "user_id", actor.UserID)
	return nil
}
