// Package audit records who did what to which resource. Writes are
// best-effort: a failed audit row is logged and counted, never surfaced to
// the operation that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/caseledger/custody-server/internal/metrics"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actions written to audit_logs.
const (
	ActionLoggedIn              = "logged_in"
	ActionLoggedOut             = "logged_out"
	ActionAccessedProfile       = "accessed_profile"
	ActionViewedCases           = "viewed_cases"
	ActionViewedCase            = "viewed_case"
	ActionCreatedCase           = "created_case"
	ActionUpdatedCaseStatus     = "updated_case_status"
	ActionDeletedCase           = "deleted_case"
	ActionViewedEvidence        = "viewed_evidence"
	ActionUploadedEvidence      = "uploaded_evidence"
	ActionAddedCustodyEntry     = "added_custody_entry"
	ActionViewedCustodyChain    = "viewed_custody_chain"
	ActionVerifiedCustodyChain  = "verified_custody_chain"
	ActionExportedCustodyReport = "exported_custody_report"
	ActionPerformedAnalysis     = "performed_analysis"
	ActionViewedAnalysis        = "viewed_analysis"
	ActionViewedAuditLogs       = "viewed_audit_logs"
)

// Resource types.
const (
	ResourceUser     = "user"
	ResourceCase     = "case"
	ResourceEvidence = "evidence"
	ResourceCustody  = "custody"
	ResourceAnalysis = "analysis"
	ResourceAudit    = "audit_logs"
)

// MaxLimit caps how many rows Recent returns.
const MaxLimit = 1000

// Logger writes audit rows through the Entity Store.
type Logger struct {
	store  store.Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewLogger creates an audit logger. now defaults to time.Now when nil.
func NewLogger(s store.Store, logger *zap.SugaredLogger, now func() time.Time) *Logger {
	if now == nil {
		now = time.Now
	}
	return &Logger{store: s, logger: logger, now: now}
}

// Entry builds an audit row without writing it. Callers that need the row
// inside their own transaction use this; everyone else calls Log.
func (l *Logger) Entry(actor models.Actor, action, resourceType, resourceID string, details any) *models.AuditLog {
	row := &models.AuditLog{
		ID:           uuid.NewString(),
		UserID:       actor.UserID,
		Action:       action,
		ResourceType: optional(resourceType),
		ResourceID:   optional(resourceID),
		IPAddress:    optional(actor.IPAddress),
		UserAgent:    optional(actor.UserAgent),
		Timestamp:    l.now().UTC().Truncate(time.Microsecond),
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			l.logger.Warnw("Dropping unencodable audit details", "action", action, "error", err)
		} else {
			row.Details = raw
		}
	}
	return row
}

// Log records an activity. It never fails the caller.
func (l *Logger) Log(ctx context.Context, actor models.Actor, action, resourceType, resourceID string, details any) {
	row := l.Entry(actor, action, resourceType, resourceID, details)
	if err := l.store.InsertAuditLog(ctx, row); err != nil {
		metrics.AuditWriteFailuresTotal.WithLabelValues(action).Inc()
		l.logger.Errorw("Failed to write audit log",
			"action", action,
			"user_id", actor.UserID,
			"resource_type", resourceType,
			"resource_id", resourceID,
			"error", err,
		)
		return
	}

	l.logger.Debugw("Activity logged",
		"action", action,
		"user_id", actor.UserID,
		"resource_id", resourceID,
	)
}

// Recent returns the newest entries. Non-positive limits use the store
// default; limits above MaxLimit are capped.
func (l *Logger) Recent(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = store.DefaultAuditLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return l.store.ListAuditLogs(ctx, limit)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
