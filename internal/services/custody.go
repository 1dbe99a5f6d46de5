package services

import (
	"context"
	"strings"

	"github.com/caseledger/custody-server/internal/audit"
	"github.com/caseledger/custody-server/internal/authz"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/report"
	"github.com/caseledger/custody-server/internal/validation"
)

// CustodyChain returns the evidence item's custody history, newest first.
func (s *Service) CustodyChain(ctx context.Context, actor models.Actor, evidenceID string) ([]models.CustodyEntry, error) {
	if err := s.authz.Authorize(actor, authz.ObjCustody, authz.ActRead); err != nil {
		return nil, err
	}
	ev, err := s.store.GetEvidence(ctx, evidenceID)
	if err != nil {
		return nil, s.storeErr(err, "failed to load evidence")
	}
	chain, err := s.custody.Chain(ctx, ev.ID)
	if err != nil {
		return nil, s.storeErr(err, "failed to load custody chain")
	}
	s.audit.Log(ctx, actor, audit.ActionViewedCustodyChain, audit.ResourceEvidence, ev.ID, map[string]any{
		"entries": len(chain),
	})
	return chain, nil
}

// AddCustodyEntry records a custodial action by the actor as the newest
// link of the evidence chain.
func (s *Service) AddCustodyEntry(ctx context.Context, actor models.Actor, evidenceID string, req *models.AddCustodyRequest) (*models.CustodyEntry, error) {
	req.Action = strings.TrimSpace(req.Action)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(actor, authz.ObjCustody, authz.ActAppend); err != nil {
		return nil, err
	}

	entry := &models.CustodyEntry{
		EvidenceID: evidenceID,
		Action:     req.Action,
		UserID:     actor.UserID,
		Timestamp:  s.clock(),
		Location:   req.Location,
		Notes:      req.Notes,
		IPAddress:  optional(actor.IPAddress),
	}
	if err := s.custody.Append(ctx, entry); err != nil {
		return nil, s.storeErr(err, "failed to append custody entry")
	}

	s.audit.Log(ctx, actor, audit.ActionAddedCustodyEntry, audit.ResourceCustody, entry.ID, map[string]any{
		"evidenceId": entry.EvidenceID,
		"action":     entry.Action,
		"sequence":   entry.Sequence,
	})
	s.logger.Infow("Custody entry added",
		"evidence_id", entry.EvidenceID,
		"action", entry.Action,
		"sequence", entry.Sequence,
		"user_id", actor.UserID,
	)
	return entry, nil
}

// VerifyCustody recomputes the evidence chain. A broken chain is a
// successful call with OK false.
func (s *Service) VerifyCustody(ctx context.Context, actor models.Actor, evidenceID string) (*models.CustodyVerification, error) {
	if err := s.authz.Authorize(actor, authz.ObjCustody, authz.ActVerify); err != nil {
		return nil, err
	}
	ev, err := s.store.GetEvidence(ctx, evidenceID)
	if err != nil {
		return nil, s.storeErr(err, "failed to load evidence")
	}
	v, err := s.custody.Verify(ctx, ev)
	if err != nil {
		return nil, s.storeErr(err, "failed to verify custody chain")
	}
	if !v.OK {
		s.logger.Warnw("Custody chain verification failed", "evidence_id", ev.ID, "failures", len(v.Failures))
	}

	s.audit.Log(ctx, actor, audit.ActionVerifiedCustodyChain, audit.ResourceEvidence, ev.ID, map[string]any{
		"ok":    v.OK,
		"total": v.Total,
	})
	return v, nil
}

// CustodyReport renders the evidence chain of custody as a PDF.
func (s *Service) CustodyReport(ctx context.Context, actor models.Actor, evidenceID string) (*report.PDF, error) {
	if err := s.authz.Authorize(actor, authz.ObjCustody, authz.ActExport); err != nil {
		return nil, err
	}
	ev, err := s.store.GetEvidence(ctx, evidenceID)
	if err != nil {
		return nil, s.storeErr(err, "failed to load evidence")
	}
	c, err := s.store.GetCase(ctx, ev.CaseID)
	if err != nil {
		return nil, s.storeErr(err, "failed to load case")
	}
	chain, err := s.store.ListCustody(ctx, ev.ID)
	if err != nil {
		return nil, s.storeErr(err, "failed to load custody chain")
	}
	v, err := s.custody.Verify(ctx, ev)
	if err != nil {
		return nil, s.storeErr(err, "failed to verify custody chain")
	}

	pdf, err := report.CustodyPDF(&models.CustodyReport{
		Evidence:     *ev,
		Case:         *c,
		Chain:        chain,
		Verification: *v,
		GeneratedBy:  actor.UserID,
		GeneratedAt:  s.clock(),
	})
	if err != nil {
		return nil, s.storeErr(err, "failed to render custody report")
	}

	s.audit.Log(ctx, actor, audit.ActionExportedCustodyReport, audit.ResourceEvidence, ev.ID, map[string]any{
		"sha256": pdf.SHA256,
		"ok":     v.OK,
	})
	return pdf, nil
}
