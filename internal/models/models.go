// Package models defines the data structures used across the application.
// These map to the relational schema shared by the Postgres and SQLite stores.
package models

import (
	"encoding/json"
	"time"
)

// Role is the sole authorization attribute of a user.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleAnalyst    Role = "analyst"
	RoleSupervisor Role = "supervisor"
	RoleAuditor    Role = "auditor"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAnalyst, RoleSupervisor, RoleAuditor:
		return true
	}
	return false
}

// CaseStatus is the lifecycle state of a case. Transitions are free-form.
type CaseStatus string

const (
	StatusOpen       CaseStatus = "open"
	StatusInProgress CaseStatus = "in_progress"
	StatusClosed     CaseStatus = "closed"
	StatusArchived   CaseStatus = "archived"
)

// CasePriority ranks a case.
type CasePriority string

const (
	PriorityLow      CasePriority = "low"
	PriorityMedium   CasePriority = "medium"
	PriorityHigh     CasePriority = "high"
	PriorityCritical CasePriority = "critical"
)

// User is an investigator account. Created on first login and refreshed by re-upsert.
type User struct {
	ID              string    `json:"id" db:"id"`
	Email           *string   `json:"email" db:"email"`
	FirstName       *string   `json:"firstName" db:"first_name"`
	LastName        *string   `json:"lastName" db:"last_name"`
	ProfileImageURL *string   `json:"profileImageUrl" db:"profile_image_url"`
	Role            Role      `json:"role" db:"role"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// Case is the top-level investigation unit.
type Case struct {
	ID           string       `json:"id" db:"id"`
	CaseNumber   string       `json:"caseNumber" db:"case_number"`
	Title        string       `json:"title" db:"title"`
	Description  *string      `json:"description" db:"description"`
	Status       CaseStatus   `json:"status" db:"status"`
	Priority     CasePriority `json:"priority" db:"priority"`
	AssignedToID *string      `json:"assignedToId" db:"assigned_to_id"`
	CreatedByID  string       `json:"createdById" db:"created_by_id"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" db:"updated_at"`
}

// Evidence is a discrete item collected for a case, anchored by its content hash.
type Evidence struct {
	ID             string    `json:"id" db:"id"`
	CaseID         string    `json:"caseId" db:"case_id"`
	EvidenceNumber string    `json:"evidenceNumber" db:"evidence_number"`
	Type           string    `json:"type" db:"type"`
	FileName       string    `json:"fileName" db:"file_name"`
	FileSize       *int64    `json:"fileSize" db:"file_size"`
	FilePath       *string   `json:"filePath" db:"file_path"`
	SHA256Hash     string    `json:"sha256Hash" db:"sha256_hash"`
	Description    *string   `json:"description" db:"description"`
	CollectedBy    string    `json:"collectedBy" db:"collected_by"`
	CollectedAt    time.Time `json:"collectedAt" db:"collected_at"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// CustodyEntry is one append-only link of an evidence item's chain of custody.
// Sequence starts at 1 with the "collected" entry; PrevHash of the first entry
// is the evidence SHA-256, later entries point at the previous EntryHash.
type CustodyEntry struct {
	ID         string    `json:"id" db:"id"`
	EvidenceID string    `json:"evidenceId" db:"evidence_id"`
	Sequence   int       `json:"sequence" db:"seq"`
	Action     string    `json:"action" db:"action"`
	UserID     string    `json:"userId" db:"user_id"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	Location   *string   `json:"location" db:"location"`
	Notes      *string   `json:"notes" db:"notes"`
	IPAddress  *string   `json:"ipAddress" db:"ip_address"`
	PrevHash   string    `json:"prevHash" db:"prev_hash"`
	EntryHash  string    `json:"entryHash" db:"entry_hash"`
}

// AnalysisResult is the write-once output of a forensic module.
// Results is an opaque document whose schema depends on ModuleType.
type AnalysisResult struct {
	ID           string          `json:"id" db:"id"`
	CaseID       string          `json:"caseId" db:"case_id"`
	EvidenceID   *string         `json:"evidenceId" db:"evidence_id"`
	ModuleType   string          `json:"moduleType" db:"module_type"`
	AnalysisType string          `json:"analysisType" db:"analysis_type"`
	Results      json.RawMessage `json:"results" db:"results"`
	Confidence   *int            `json:"confidence" db:"confidence"`
	Flagged      bool            `json:"flagged" db:"flagged"`
	AnalyzedBy   string          `json:"analyzedBy" db:"analyzed_by"`
	AnalyzedAt   time.Time       `json:"analyzedAt" db:"analyzed_at"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
}

// AuditLog records a user action for accountability review.
type AuditLog struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"userId" db:"user_id"`
	Action       string          `json:"action" db:"action"`
	ResourceType *string         `json:"resourceType" db:"resource_type"`
	ResourceID   *string         `json:"resourceId" db:"resource_id"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress    *string         `json:"ipAddress" db:"ip_address"`
	UserAgent    *string         `json:"userAgent" db:"user_agent"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// Stats is the dashboard aggregate.
type Stats struct {
	ActiveCases    int64 `json:"activeCases"`
	EvidenceCount  int64 `json:"evidenceCount"`
	ActiveAnalyses int64 `json:"activeAnalyses"`
	CompletedCases int64 `json:"completedCases"`
}

// EvidenceDigest is a Merkle leaf source: one evidence hash in insertion order.
type EvidenceDigest struct {
	EvidenceID string `json:"evidenceId"`
	SHA256Hash string `json:"sha256Hash"`
}

// Actor is the normalized identity attached to every request,
// regardless of how the caller authenticated.
type Actor struct {
	UserID    string
	Role      Role
	IPAddress string
	UserAgent string
}

// ---- Request bodies ----

// CreateCaseRequest is the request body for opening a case.
type CreateCaseRequest struct {
	CaseNumber   string       `json:"caseNumber" validate:"required,max=50"`
	Title        string       `json:"title" validate:"required,max=255"`
	Description  *string      `json:"description,omitempty"`
	Status       CaseStatus   `json:"status,omitempty" validate:"omitempty,oneof=open in_progress closed archived"`
	Priority     CasePriority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	AssignedToID *string      `json:"assignedToId,omitempty"`
}

// UpdateCaseStatusRequest is the request body for a status transition.
type UpdateCaseStatusRequest struct {
	Status CaseStatus `json:"status" validate:"required,oneof=open in_progress closed archived"`
}

// CreateEvidenceRequest is the request body for evidence intake.
// FileContent stands in for uploaded bytes; when absent the hash is taken over FileName.
type CreateEvidenceRequest struct {
	CaseID         string     `json:"caseId" validate:"required"`
	EvidenceNumber string     `json:"evidenceNumber" validate:"required,max=50"`
	Type           string     `json:"type" validate:"required,max=50"`
	FileName       string     `json:"fileName" validate:"required,max=255"`
	FileContent    *string    `json:"fileContent,omitempty"`
	Description    *string    `json:"description,omitempty"`
	CollectedAt    *time.Time `json:"collectedAt,omitempty" validate:"omitempty,storabletime"`
}

// AddCustodyRequest is the request body for recording a custodial action.
type AddCustodyRequest struct {
	Action   string  `json:"action" validate:"required,max=100"`
	Location *string `json:"location,omitempty" validate:"omitempty,max=255"`
	Notes    *string `json:"notes,omitempty"`
}

// CreateAnalysisRequest is the request body for storing a module's output.
type CreateAnalysisRequest struct {
	CaseID       string          `json:"caseId" validate:"required"`
	EvidenceID   *string         `json:"evidenceId,omitempty"`
	ModuleType   string          `json:"moduleType" validate:"required,max=50"`
	AnalysisType string          `json:"analysisType" validate:"required,max=100"`
	Results      json.RawMessage `json:"results" validate:"required,jsondoc"`
	Confidence   *int            `json:"confidence,omitempty" validate:"omitempty,min=0,max=100"`
	Flagged      *bool           `json:"flagged,omitempty"`
}

// LoginRequest is the request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ---- Integrity ----

// MerkleProof contains the Merkle proof for a specific evidence hash
type MerkleProof struct {
	LeafHash   string      `json:"leafHash"`
	EvidenceID string      `json:"evidenceId,omitempty"`
	Root       string      `json:"root"`
	Proof      []ProofStep `json:"proof"`
	Index      int         `json:"index"`
}

// ProofStep is a single step in a Merkle proof path
type ProofStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"` // "left" | "right"
}

// CustodyVerification is the outcome of recomputing an evidence item's custody chain.
type CustodyVerification struct {
	EvidenceID    string           `json:"evidenceId"`
	OK            bool             `json:"ok"`
	Total         int              `json:"total"`
	LastEntryHash string           `json:"lastEntryHash,omitempty"`
	Failures      []CustodyFailure `json:"failures,omitempty"`
}

// CustodyFailure describes one broken link.
type CustodyFailure struct {
	Sequence int    `json:"sequence"`
	EntryID  string `json:"entryId,omitempty"`
	Reason   string `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// CustodyReport bundles what the PDF export renders.
type CustodyReport struct {
	Evidence     Evidence            `json:"evidence"`
	Case         Case                `json:"case"`
	Chain        []CustodyEntry      `json:"chain"`
	Verification CustodyVerification `json:"verification"`
	GeneratedBy  string              `json:"generatedBy"`
	GeneratedAt  time.Time           `json:"generatedAt"`
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	Database   string `json:"database"`
	MerkleRoot string `json:"merkleRoot,omitempty"`
}
