// Package postgres implements the Entity Store on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the production Entity Store.
type Store struct {
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an open pool. The store takes ownership and closes it on Close.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Close() { s.db.Close() }

// ==================== USERS ====================

const userColumns = `id, email, first_name, last_name, profile_image_url, role, created_at, updated_at`

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "user")
	}
	return u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			profile_image_url = EXCLUDED.profile_image_url,
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + userColumns

	out, err := scanUser(s.db.QueryRow(ctx, query,
		u.ID, u.Email, u.FirstName, u.LastName, u.ProfileImageURL, string(u.Role),
		u.CreatedAt, u.UpdatedAt))
	if err != nil {
		return nil, mapErr(err, "user")
	}
	return out, nil
}

// ==================== CASES ====================

const caseColumns = `id, case_number, title, description, status, priority, assigned_to_id, created_by_id, created_at, updated_at`

func (s *Store) ListCases(ctx context.Context) ([]models.Case, error) {
	rows, err := s.db.Query(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	cases := []models.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

func (s *Store) GetCase(ctx context.Context, id string) (*models.Case, error) {
	c, err := scanCase(s.db.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "case")
	}
	return c, nil
}

func (s *Store) CreateCase(ctx context.Context, c *models.Case) error {
	query := `
		INSERT INTO cases (` + caseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.Exec(ctx, query,
		c.ID, c.CaseNumber, c.Title, c.Description, string(c.Status), string(c.Priority),
		c.AssignedToID, c.CreatedByID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return mapErr(err, "case number")
	}
	return nil
}

func (s *Store) UpdateCaseStatus(ctx context.Context, id string, status models.CaseStatus, at time.Time) (*models.Case, error) {
	c, err := scanCase(s.db.QueryRow(ctx, `
		UPDATE cases SET status = $1, updated_at = $2
		WHERE id = $3
		RETURNING `+caseColumns,
		string(status), at, id))
	if err != nil {
		return nil, mapErr(err, "case")
	}
	return c, nil
}

func (s *Store) DeleteCase(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM cases WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "case")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound.WithMessage("case not found")
	}
	return nil
}

// ==================== EVIDENCE ====================

const evidenceColumns = `id, case_id, evidence_number, type, file_name, file_size, file_path, sha256_hash, description, collected_by, collected_at, created_at`

func (s *Store) ListEvidence(ctx context.Context, caseID string) ([]models.Evidence, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if caseID != "" {
		rows, err = s.db.Query(ctx,
			`SELECT `+evidenceColumns+` FROM evidence WHERE case_id = $1 ORDER BY created_at DESC, id DESC`, caseID)
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT `+evidenceColumns+` FROM evidence ORDER BY created_at DESC, id DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	list := []models.Evidence{}
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

func (s *Store) GetEvidence(ctx context.Context, id string) (*models.Evidence, error) {
	e, err := scanEvidence(s.db.QueryRow(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "evidence")
	}
	return e, nil
}

func (s *Store) CreateEvidence(ctx context.Context, ev *models.Evidence, genesis *models.CustodyEntry, seal store.SealFunc, audit *models.AuditLog) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO evidence (`+evidenceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			ev.ID, ev.CaseID, ev.EvidenceNumber, ev.Type, ev.FileName, ev.FileSize, ev.FilePath,
			ev.SHA256Hash, ev.Description, ev.CollectedBy, ev.CollectedAt, ev.CreatedAt)
		if err != nil {
			return mapErr(err, "case")
		}

		if err := seal(genesis, ev.SHA256Hash, 1); err != nil {
			return fmt.Errorf("seal genesis custody entry: %w", err)
		}
		if err := insertCustody(ctx, tx, genesis); err != nil {
			return err
		}

		if audit != nil {
			return insertAudit(ctx, tx, audit)
		}
		return nil
	})
}

// ==================== CHAIN OF CUSTODY ====================

const custodyColumns = `id, evidence_id, seq, action, user_id, timestamp, location, notes, ip_address, prev_hash, entry_hash`

// AppendCustody locks the evidence row so concurrent appends queue behind each other.
func (s *Store) AppendCustody(ctx context.Context, entry *models.CustodyEntry, seal store.SealFunc) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var evidenceHash string
		err := tx.QueryRow(ctx,
			`SELECT sha256_hash FROM evidence WHERE id = $1 FOR UPDATE`, entry.EvidenceID).Scan(&evidenceHash)
		if err != nil {
			return mapErr(err, "evidence")
		}

		prev, seq := evidenceHash, 1
		var (
			lastSeq  int
			lastHash string
		)
		err = tx.QueryRow(ctx, `
			SELECT seq, entry_hash FROM chain_of_custody
			WHERE evidence_id = $1
			ORDER BY seq DESC
			LIMIT 1`, entry.EvidenceID).Scan(&lastSeq, &lastHash)
		switch {
		case err == nil:
			prev, seq = lastHash, lastSeq+1
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return fmt.Errorf("query previous custody entry: %w", err)
		}

		if err := seal(entry, prev, seq); err != nil {
			return fmt.Errorf("seal custody entry: %w", err)
		}
		return insertCustody(ctx, tx, entry)
	})
}

func (s *Store) ListCustody(ctx context.Context, evidenceID string) ([]models.CustodyEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+custodyColumns+` FROM chain_of_custody
		WHERE evidence_id = $1
		ORDER BY timestamp DESC, seq DESC`, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("query custody chain: %w", err)
	}
	defer rows.Close()

	chain := []models.CustodyEntry{}
	for rows.Next() {
		var e models.CustodyEntry
		if err := rows.Scan(&e.ID, &e.EvidenceID, &e.Sequence, &e.Action, &e.UserID, &e.Timestamp,
			&e.Location, &e.Notes, &e.IPAddress, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("scan custody entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		chain = append(chain, e)
	}
	return chain, rows.Err()
}

func insertCustody(ctx context.Context, tx pgx.Tx, e *models.CustodyEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO chain_of_custody (`+custodyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.EvidenceID, e.Sequence, e.Action, e.UserID, e.Timestamp,
		e.Location, e.Notes, e.IPAddress, e.PrevHash, e.EntryHash)
	if err != nil {
		return mapErr(err, "custody entry")
	}
	return nil
}

// ==================== ANALYSIS RESULTS ====================

const analysisColumns = `id, case_id, evidence_id, module_type, analysis_type, results, confidence, flagged, analyzed_by, analyzed_at, created_at`

func (s *Store) CreateAnalysisResult(ctx context.Context, r *models.AnalysisResult) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO analysis_results (`+analysisColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.CaseID, r.EvidenceID, r.ModuleType, r.AnalysisType, []byte(r.Results),
		r.Confidence, r.Flagged, r.AnalyzedBy, r.AnalyzedAt, r.CreatedAt)
	if err != nil {
		return mapErr(err, "case or evidence")
	}
	return nil
}

func (s *Store) ListAnalysisResults(ctx context.Context, caseID string) ([]models.AnalysisResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+analysisColumns+` FROM analysis_results
		WHERE case_id = $1
		ORDER BY created_at DESC, id DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query analysis results: %w", err)
	}
	defer rows.Close()

	results := []models.AnalysisResult{}
	for rows.Next() {
		var (
			r   models.AnalysisResult
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.CaseID, &r.EvidenceID, &r.ModuleType, &r.AnalysisType,
			&raw, &r.Confidence, &r.Flagged, &r.AnalyzedBy, &r.AnalyzedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis result: %w", err)
		}
		r.Results = raw
		r.AnalyzedAt = r.AnalyzedAt.UTC()
		r.CreatedAt = r.CreatedAt.UTC()
		results = append(results, r)
	}
	return results, rows.Err()
}

// ==================== AUDIT LOGS ====================

const auditColumns = `id, user_id, action, resource_type, resource_id, details, ip_address, user_agent, timestamp`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (s *Store) InsertAuditLog(ctx context.Context, l *models.AuditLog) error {
	return insertAudit(ctx, s.db, l)
}

func insertAudit(ctx context.Context, db execer, l *models.AuditLog) error {
	var details []byte
	if len(l.Details) > 0 {
		details = l.Details
	}
	_, err := db.Exec(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.UserID, l.Action, l.ResourceType, l.ResourceID, details,
		l.IPAddress, l.UserAgent, l.Timestamp)
	if err != nil {
		return mapErr(err, "user")
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = store.DefaultAuditLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+auditColumns+` FROM audit_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var (
			l       models.AuditLog
			details []byte
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.ResourceType, &l.ResourceID,
			&details, &l.IPAddress, &l.UserAgent, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if len(details) > 0 {
			l.Details = details
		}
		l.Timestamp = l.Timestamp.UTC()
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ==================== STATS ====================

func (s *Store) Stats(ctx context.Context, monthStart time.Time) (*models.Stats, error) {
	var st models.Stats
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM cases WHERE status IN ('open', 'in_progress')),
			(SELECT COUNT(*) FROM evidence),
			(SELECT COUNT(*) FROM analysis_results),
			(SELECT COUNT(*) FROM cases WHERE status = 'closed' AND updated_at >= $1)`,
		monthStart).Scan(&st.ActiveCases, &st.EvidenceCount, &st.ActiveAnalyses, &st.CompletedCases)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &st, nil
}

func (s *Store) EvidenceDigests(ctx context.Context) ([]models.EvidenceDigest, error) {
	rows, err := s.db.Query(ctx, `SELECT id, sha256_hash FROM evidence ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query evidence digests: %w", err)
	}
	defer rows.Close()

	digests := []models.EvidenceDigest{}
	for rows.Next() {
		var d models.EvidenceDigest
		if err := rows.Scan(&d.EvidenceID, &d.SHA256Hash); err != nil {
			return nil, fmt.Errorf("scan evidence digest: %w", err)
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

// ==================== HELPERS ====================

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u    models.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.ProfileImageURL,
		&role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func scanCase(row pgx.Row) (*models.Case, error) {
	var (
		c                models.Case
		status, priority string
	)
	if err := row.Scan(&c.ID, &c.CaseNumber, &c.Title, &c.Description, &status, &priority,
		&c.AssignedToID, &c.CreatedByID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = models.CaseStatus(status)
	c.Priority = models.CasePriority(priority)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanEvidence(row pgx.Row) (*models.Evidence, error) {
	var e models.Evidence
	if err := row.Scan(&e.ID, &e.CaseID, &e.EvidenceNumber, &e.Type, &e.FileName, &e.FileSize,
		&e.FilePath, &e.SHA256Hash, &e.Description, &e.CollectedBy, &e.CollectedAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.CollectedAt = e.CollectedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// mapErr turns driver errors into ledger error classes.
func mapErr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound.WithMessagef("%s not found", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return apperr.ErrConflict.Wrap(err, fmt.Sprintf("%s already exists", what))
		case "23503": // foreign_key_violation
			return apperr.ErrNotFound.Wrap(err, fmt.Sprintf("referenced %s not found", what))
		}
	}
	return err
}
