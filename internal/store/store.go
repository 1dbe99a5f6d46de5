// Package store defines the Entity Store contract. Implementations own every
// row of the ledger and fail with apperr NOT_FOUND or CONFLICT for unknown ids
// and unique violations; any other failure is returned as a plain error.
package store

import (
	"context"
	"time"

	"github.com/caseledger/custody-server/internal/models"
)

// DefaultAuditLimit applies when callers pass a non-positive limit.
const DefaultAuditLimit = 100

// SealFunc completes a custody entry once the store knows the previous link.
// prevHash is the evidence SHA-256 when the chain is empty; seq is the
// sequence number the entry will be stored under.
type SealFunc func(entry *models.CustodyEntry, prevHash string, seq int) error

// Store is the persistence boundary. Lists are ordered newest first:
// createdAt for cases/evidence/analyses, timestamp for custody and audit.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	// UpsertUser inserts or refreshes a user keyed by id. CreatedAt is kept on conflict.
	UpsertUser(ctx context.Context, u *models.User) (*models.User, error)

	ListCases(ctx context.Context) ([]models.Case, error)
	GetCase(ctx context.Context, id string) (*models.Case, error)
	CreateCase(ctx context.Context, c *models.Case) error
	UpdateCaseStatus(ctx context.Context, id string, status models.CaseStatus, at time.Time) (*models.Case, error)
	// DeleteCase removes the case and cascades to its evidence, custody and analyses.
	DeleteCase(ctx context.Context, id string) error

	// ListEvidence returns all evidence, or only the case's when caseID is non-empty.
	ListEvidence(ctx context.Context, caseID string) ([]models.Evidence, error)
	GetEvidence(ctx context.Context, id string) (*models.Evidence, error)
	// CreateEvidence writes the evidence row, its sealed genesis custody entry and
	// the audit row in one transaction.
	CreateEvidence(ctx context.Context, ev *models.Evidence, genesis *models.CustodyEntry, seal SealFunc, audit *models.AuditLog) error

	// AppendCustody appends one entry to the evidence chain. Appends on the same
	// evidence are serialized so the chain never forks.
	AppendCustody(ctx context.Context, entry *models.CustodyEntry, seal SealFunc) error
	ListCustody(ctx context.Context, evidenceID string) ([]models.CustodyEntry, error)

	CreateAnalysisResult(ctx context.Context, r *models.AnalysisResult) error
	ListAnalysisResults(ctx context.Context, caseID string) ([]models.AnalysisResult, error)

	InsertAuditLog(ctx context.Context, l *models.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error)

	// Stats counts cases, evidence and analyses; completed cases are those
	// closed with updatedAt at or after monthStart.
	Stats(ctx context.Context, monthStart time.Time) (*models.Stats, error)
	// EvidenceDigests returns every evidence hash, oldest first.
	EvidenceDigests(ctx context.Context) ([]models.EvidenceDigest, error)

	Ping(ctx context.Context) error
	Close()
}
