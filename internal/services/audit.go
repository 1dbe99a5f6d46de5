package services

import (
	"context"
	"time"

	"github.com/caseledger/custody-server/internal/audit"
	"github.com/caseledger/custody-server/internal/authz"
	"github.com/caseledger/custody-server/internal/models"
)

// AuditLogs returns the newest audit rows, unfiltered.
func (s *Service) AuditLogs(ctx context.Context, actor models.Actor, limit int) ([]models.AuditLog, error) {
	if err := s.authz.Authorize(actor, authz.ObjAudit, authz.ActRead); err != nil {
		return nil, err
	}
	logs, err := s.audit.Recent(ctx, limit)
	if err != nil {
		return nil, s.storeErr(err, "failed to list audit logs")
	}
	s.audit.Log(ctx, actor, audit.ActionViewedAuditLogs, audit.ResourceAudit, "", map[string]any{
		"limit": limit,
		"count": len(logs),
	})
	return logs, nil
}

// Stats returns the dashboard counters. Completed cases count from the
// first of the current month in the configured zone.
func (s *Service) Stats(ctx context.Context, actor models.Actor) (*models.Stats, error) {
	if err := s.authz.Authorize(actor, authz.ObjStats, authz.ActRead); err != nil {
		return nil, err
	}
	st, err := s.store.Stats(ctx, s.monthStart())
	if err != nil {
		return nil, s.storeErr(err, "failed to compute stats")
	}
	return st, nil
}

func (s *Service) monthStart() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
}
