// Package sqlite implements the Entity Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo). It backs local development and the test suite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store wraps a single-connection *sql.DB; SQLite serializes writers anyway
// and one connection keeps custody appends strictly ordered.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database file at path with foreign keys enforced.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() { _ = s.db.Close() }

// ==================== USERS ====================

const userColumns = `id, email, first_name, last_name, profile_image_url, role, created_at, updated_at`

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, mapErr(err, "user")
	}
	return u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u *models.User) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users(`+userColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email=excluded.email,
			first_name=excluded.first_name,
			last_name=excluded.last_name,
			profile_image_url=excluded.profile_image_url,
			role=excluded.role,
			updated_at=excluded.updated_at
		RETURNING `+userColumns,
		u.ID, u.Email, u.FirstName, u.LastName, u.ProfileImageURL, string(u.Role),
		toNanos(u.CreatedAt), toNanos(u.UpdatedAt))
	out, err := scanUser(row)
	if err != nil {
		return nil, mapErr(err, "user")
	}
	return out, nil
}

// ==================== CASES ====================

const caseColumns = `id, case_number, title, description, status, priority, assigned_to_id, created_by_id, created_at, updated_at`

func (s *Store) ListCases(ctx context.Context) ([]models.Case, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY created_at DESC, id DESC`)
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
	c, err := scanCase(s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id))
	if err != nil {
		return nil, mapErr(err, "case")
	}
	return c, nil
}

func (s *Store) CreateCase(ctx context.Context, c *models.Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases(`+caseColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CaseNumber, c.Title, c.Description, string(c.Status), string(c.Priority),
		c.AssignedToID, c.CreatedByID, toNanos(c.CreatedAt), toNanos(c.UpdatedAt))
	if err != nil {
		return mapErr(err, "case number")
	}
	return nil
}

func (s *Store) UpdateCaseStatus(ctx context.Context, id string, status models.CaseStatus, at time.Time) (*models.Case, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx, `
		UPDATE cases SET status = ?, updated_at = ?
		WHERE id = ?
		RETURNING `+caseColumns,
		string(status), toNanos(at), id))
	if err != nil {
		return nil, mapErr(err, "case")
	}
	return c, nil
}

func (s *Store) DeleteCase(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return mapErr(err, "case")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrNotFound.WithMessage("case not found")
	}
	return nil
}

// ==================== EVIDENCE ====================

const evidenceColumns = `id, case_id, evidence_number, type, file_name, file_size, file_path, sha256_hash, description, collected_by, collected_at, created_at`

func (s *Store) ListEvidence(ctx context.Context, caseID string) ([]models.Evidence, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if caseID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+evidenceColumns+` FROM evidence WHERE case_id = ? ORDER BY created_at DESC, id DESC`, caseID)
	} else {
		rows, err = s.db.QueryContext(ctx,
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
	e, err := scanEvidence(s.db.QueryRowContext(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id = ?`, id))
	if err != nil {
		return nil, mapErr(err, "evidence")
	}
	return e, nil
}

func (s *Store) CreateEvidence(ctx context.Context, ev *models.Evidence, genesis *models.CustodyEntry, seal store.SealFunc, audit *models.AuditLog) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx create evidence: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evidence(`+evidenceColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CaseID, ev.EvidenceNumber, ev.Type, ev.FileName, ev.FileSize, ev.FilePath,
		ev.SHA256Hash, ev.Description, ev.CollectedBy, toNanos(ev.CollectedAt), toNanos(ev.CreatedAt))
	if err != nil {
		return mapErr(err, "case")
	}

	if err = seal(genesis, ev.SHA256Hash, 1); err != nil {
		return fmt.Errorf("seal genesis custody entry: %w", err)
	}
	if err = insertCustody(ctx, tx, genesis); err != nil {
		return err
	}

	if audit != nil {
		if err = insertAudit(ctx, tx, audit); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create evidence: %w", err)
	}
	return nil
}

// ==================== CHAIN OF CUSTODY ====================

const custodyColumns = `id, evidence_id, seq, action, user_id, timestamp, location, notes, ip_address, prev_hash, entry_hash`

func (s *Store) AppendCustody(ctx context.Context, entry *models.CustodyEntry, seal store.SealFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx append custody: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var evidenceHash string
	err = tx.QueryRowContext(ctx, `SELECT sha256_hash FROM evidence WHERE id = ?`, entry.EvidenceID).Scan(&evidenceHash)
	if err != nil {
		return mapErr(err, "evidence")
	}

	prev, seq := evidenceHash, 1
	var (
		lastSeq  int
		lastHash string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT seq, entry_hash FROM chain_of_custody
		WHERE evidence_id = ?
		ORDER BY seq DESC
		LIMIT 1`, entry.EvidenceID).Scan(&lastSeq, &lastHash)
	switch {
	case err == nil:
		prev, seq = lastHash, lastSeq+1
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	default:
		return fmt.Errorf("query previous custody entry: %w", err)
	}

	if err = seal(entry, prev, seq); err != nil {
		return fmt.Errorf("seal custody entry: %w", err)
	}
	if err = insertCustody(ctx, tx, entry); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit append custody: %w", err)
	}
	return nil
}

func (s *Store) ListCustody(ctx context.Context, evidenceID string) ([]models.CustodyEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+custodyColumns+` FROM chain_of_custody
		WHERE evidence_id = ?
		ORDER BY timestamp DESC, seq DESC`, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("query custody chain: %w", err)
	}
	defer rows.Close()

	chain := []models.CustodyEntry{}
	for rows.Next() {
		var (
			e  models.CustodyEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.EvidenceID, &e.Sequence, &e.Action, &e.UserID, &ts,
			&e.Location, &e.Notes, &e.IPAddress, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("scan custody entry: %w", err)
		}
		e.Timestamp = fromNanos(ts)
		chain = append(chain, e)
	}
	return chain, rows.Err()
}

func insertCustody(ctx context.Context, tx *sql.Tx, e *models.CustodyEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chain_of_custody(`+custodyColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EvidenceID, e.Sequence, e.Action, e.UserID, toNanos(e.Timestamp),
		e.Location, e.Notes, e.IPAddress, e.PrevHash, e.EntryHash)
	if err != nil {
		return mapErr(err, "custody entry")
	}
	return nil
}

// ==================== ANALYSIS RESULTS ====================

const analysisColumns = `id, case_id, evidence_id, module_type, analysis_type, results, confidence, flagged, analyzed_by, analyzed_at, created_at`

func (s *Store) CreateAnalysisResult(ctx context.Context, r *models.AnalysisResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_results(`+analysisColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CaseID, r.EvidenceID, r.ModuleType, r.AnalysisType, string(r.Results),
		r.Confidence, r.Flagged, r.AnalyzedBy, toNanos(r.AnalyzedAt), toNanos(r.CreatedAt))
	if err != nil {
		return mapErr(err, "case or evidence")
	}
	return nil
}

func (s *Store) ListAnalysisResults(ctx context.Context, caseID string) ([]models.AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+analysisColumns+` FROM analysis_results
		WHERE case_id = ?
		ORDER BY created_at DESC, id DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query analysis results: %w", err)
	}
	defer rows.Close()

	results := []models.AnalysisResult{}
	for rows.Next() {
		var (
			r                     models.AnalysisResult
			raw                   []byte
			analyzedAt, createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.CaseID, &r.EvidenceID, &r.ModuleType, &r.AnalysisType,
			&raw, &r.Confidence, &r.Flagged, &r.AnalyzedBy, &analyzedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan analysis result: %w", err)
		}
		r.Results = json.RawMessage(raw)
		r.AnalyzedAt = fromNanos(analyzedAt)
		r.CreatedAt = fromNanos(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ==================== AUDIT LOGS ====================

const auditColumns = `id, user_id, action, resource_type, resource_id, details, ip_address, user_agent, timestamp`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) InsertAuditLog(ctx context.Context, l *models.AuditLog) error {
	return insertAudit(ctx, s.db, l)
}

func insertAudit(ctx context.Context, db execer, l *models.AuditLog) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_logs(`+auditColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.Action, l.ResourceType, l.ResourceID, nullableJSON(l.Details),
		l.IPAddress, l.UserAgent, toNanos(l.Timestamp))
	if err != nil {
		return mapErr(err, "user")
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = store.DefaultAuditLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+` FROM audit_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var (
			l       models.AuditLog
			details []byte
			ts      int64
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.ResourceType, &l.ResourceID,
			&details, &l.IPAddress, &l.UserAgent, &ts); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if len(details) > 0 {
			l.Details = json.RawMessage(details)
		}
		l.Timestamp = fromNanos(ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ==================== STATS ====================

func (s *Store) Stats(ctx context.Context, monthStart time.Time) (*models.Stats, error) {
	var st models.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM cases WHERE status IN ('open', 'in_progress')),
			(SELECT COUNT(*) FROM evidence),
			(SELECT COUNT(*) FROM analysis_results),
			(SELECT COUNT(*) FROM cases WHERE status = 'closed' AND updated_at >= ?)`,
		toNanos(monthStart)).Scan(&st.ActiveCases, &st.EvidenceCount, &st.ActiveAnalyses, &st.CompletedCases)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &st, nil
}

func (s *Store) EvidenceDigests(ctx context.Context) ([]models.EvidenceDigest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sha256_hash FROM evidence ORDER BY created_at ASC, id ASC`)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                    models.User
		role                 string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.ProfileImageURL,
		&role, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.CreatedAt = fromNanos(createdAt)
	u.UpdatedAt = fromNanos(updatedAt)
	return &u, nil
}

func scanCase(row rowScanner) (*models.Case, error) {
	var (
		c                    models.Case
		status, priority     string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&c.ID, &c.CaseNumber, &c.Title, &c.Description, &status, &priority,
		&c.AssignedToID, &c.CreatedByID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Status = models.CaseStatus(status)
	c.Priority = models.CasePriority(priority)
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	return &c, nil
}

func scanEvidence(row rowScanner) (*models.Evidence, error) {
	var (
		e                      models.Evidence
		collectedAt, createdAt int64
	)
	if err := row.Scan(&e.ID, &e.CaseID, &e.EvidenceNumber, &e.Type, &e.FileName, &e.FileSize,
		&e.FilePath, &e.SHA256Hash, &e.Description, &e.CollectedBy, &collectedAt, &createdAt); err != nil {
		return nil, err
	}
	e.CollectedAt = fromNanos(collectedAt)
	e.CreatedAt = fromNanos(createdAt)
	return &e, nil
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// mapErr turns driver errors into ledger error classes; what names the
// entity for the caller-facing message.
func mapErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound.WithMessagef("%s not found", what)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperr.ErrConflict.Wrap(err, fmt.Sprintf("%s already exists", what))
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return apperr.ErrNotFound.Wrap(err, fmt.Sprintf("referenced %s not found", what))
		}
	}
	return err
}
