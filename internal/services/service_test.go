package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/audit"
	"github.com/caseledger/custody-server/internal/authz"
	"github.com/caseledger/custody-server/internal/custody"
	"github.com/caseledger/custody-server/internal/digest"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	svc   *Service
	store *sqlite.Store
	clock *fakeClock

	admin      models.Actor
	analyst    models.Actor
	supervisor models.Actor
	auditor    models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "custody.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(st.Close)

	az, err := authz.New("")
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)}
	f := &fixture{
		svc:   New(st, az, zap.NewNop().Sugar(), Options{Now: clock.Now, Location: time.UTC}),
		store: st,
		clock: clock,
	}

	actor := func(id string, role models.Role) models.Actor {
		_, err := st.UpsertUser(ctx, &models.User{ID: id, Role: role, CreatedAt: clock.t, UpdatedAt: clock.t})
		require.NoError(t, err)
		return models.Actor{UserID: id, Role: role, IPAddress: "10.0.0.5", UserAgent: "test"}
	}
	f.admin = actor("admin-user", models.RoleAdmin)
	f.analyst = actor("analyst-1", models.RoleAnalyst)
	f.supervisor = actor("supervisor-1", models.RoleSupervisor)
	f.auditor = actor("auditor-1", models.RoleAuditor)
	return f
}

func (f *fixture) auditRows(t *testing.T, action string) []models.AuditLog {
	t.Helper()
	rows, err := f.store.ListAuditLogs(context.Background(), audit.MaxLimit)
	require.NoError(t, err)
	var out []models.AuditLog
	for _, r := range rows {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

func (f *fixture) newCase(t *testing.T, number string) *models.Case {
	t.Helper()
	c, err := f.svc.CreateCase(context.Background(), f.analyst, &models.CreateCaseRequest{CaseNumber: number, Title: "Case " + number})
	require.NoError(t, err)
	return c
}

func (f *fixture) newEvidence(t *testing.T, caseID, number string) *models.Evidence {
	t.Helper()
	content := "bytes of " + number
	ev, err := f.svc.CreateEvidence(context.Background(), f.analyst, &models.CreateEvidenceRequest{
		CaseID:         caseID,
		EvidenceNumber: number,
		Type:           "disk_image",
		FileName:       number + ".img",
		FileContent:    &content,
	})
	require.NoError(t, err)
	return ev
}

func TestCreateCaseDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.CreateCase(ctx, f.analyst, &models.CreateCaseRequest{CaseNumber: " CASE-1 ", Title: "Phishing"})
	require.NoError(t, err)

	assert.Equal(t, "CASE-1", c.CaseNumber)
	assert.Equal(t, models.StatusOpen, c.Status)
	assert.Equal(t, models.PriorityMedium, c.Priority)
	assert.Equal(t, f.analyst.UserID, c.CreatedByID)

	got, err := f.svc.GetCase(ctx, f.auditor, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	rows := f.auditRows(t, audit.ActionCreatedCase)
	require.Len(t, rows, 1)
	assert.Equal(t, c.ID, *rows[0].ResourceID)
	assert.JSONEq(t, `{"caseNumber":"CASE-1","title":"Phishing"}`, string(rows[0].Details))
}

func TestCreateCaseDuplicateNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.newCase(t, "CASE-1")

	_, err := f.svc.CreateCase(ctx, f.admin, &models.CreateCaseRequest{CaseNumber: "CASE-1", Title: "again"})
	require.ErrorIs(t, err, apperr.ErrConflict)

	cases, err := f.store.ListCases(ctx)
	require.NoError(t, err)
	assert.Len(t, cases, 1)
	assert.Len(t, f.auditRows(t, audit.ActionCreatedCase), 1)
}

func TestCreateCaseRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCase(ctx, f.analyst, &models.CreateCaseRequest{CaseNumber: "A-1", Title: "ok"})
	require.NoError(t, err)

	for _, actor := range []models.Actor{f.auditor, f.supervisor} {
		_, err = f.svc.CreateCase(ctx, actor, &models.CreateCaseRequest{CaseNumber: "B-" + string(actor.Role), Title: "no"})
		assert.ErrorIs(t, err, apperr.ErrForbidden, actor.Role)
	}

	cases, err := f.store.ListCases(ctx)
	require.NoError(t, err)
	assert.Len(t, cases, 1)
	assert.Len(t, f.auditRows(t, audit.ActionCreatedCase), 1)
}

func TestCreateCaseValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateCase(context.Background(), f.analyst, &models.CreateCaseRequest{CaseNumber: "X", Title: "  "})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.svc.CreateCase(context.Background(), f.analyst, &models.CreateCaseRequest{CaseNumber: "X", Title: "t", Priority: "urgent"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCreateCaseUnknownAssignee(t *testing.T) {
	f := newFixture(t)
	ghost := "ghost"

	_, err := f.svc.CreateCase(context.Background(), f.admin, &models.CreateCaseRequest{CaseNumber: "X", Title: "t", AssignedToID: &ghost})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestScenarioCaseClosedBySupervisor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.CreateCase(ctx, f.analyst, &models.CreateCaseRequest{
		CaseNumber: "CASE-2025-0001",
		Title:      "Ransomware outbreak",
		Priority:   models.PriorityHigh,
	})
	require.NoError(t, err)

	f.clock.Set(f.clock.Now().Add(time.Hour))
	closed, err := f.svc.UpdateCaseStatus(ctx, f.supervisor, c.ID, &models.UpdateCaseStatusRequest{Status: models.StatusClosed})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, closed.Status)
	assert.True(t, closed.UpdatedAt.After(c.UpdatedAt))

	rows := f.auditRows(t, audit.ActionUpdatedCaseStatus)
	require.Len(t, rows, 1)
	assert.Equal(t, f.supervisor.UserID, rows[0].UserID)
	assert.JSONEq(t, `{"caseNumber":"CASE-2025-0001","previousStatus":"open","newStatus":"closed"}`, string(rows[0].Details))

	_, err = f.svc.UpdateCaseStatus(ctx, f.auditor, c.ID, &models.UpdateCaseStatusRequest{Status: models.StatusOpen})
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.UpdateCaseStatus(ctx, f.admin, "missing", &models.UpdateCaseStatusRequest{Status: models.StatusOpen})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.newCase(t, "CASE-1")
	ev := f.newEvidence(t, c.ID, "EV-1")

	require.ErrorIs(t, f.svc.DeleteCase(ctx, f.analyst, c.ID), apperr.ErrForbidden)
	require.NoError(t, f.svc.DeleteCase(ctx, f.admin, c.ID))

	_, err := f.svc.GetEvidence(ctx, f.admin, ev.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorIs(t, f.svc.DeleteCase(ctx, f.admin, c.ID), apperr.ErrNotFound)
	assert.Len(t, f.auditRows(t, audit.ActionDeletedCase), 1)
}

func TestCreateEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.newCase(t, "CASE-1")

	content := "MZ\x90\x00"
	ev, err := f.svc.CreateEvidence(ctx, f.analyst, &models.CreateEvidenceRequest{
		CaseID:         c.ID,
		EvidenceNumber: "EV-1",
		Type:           "binary",
		FileName:       "sample.exe",
		FileContent:    &content,
	})
	require.NoError(t, err)

	assert.Equal(t, digest.String(content), ev.SHA256Hash)
	assert.Equal(t, int64(len(content)), *ev.FileSize)
	assert.Equal(t, "/evidence/"+c.ID+"/sample.exe", *ev.FilePath)
	assert.Equal(t, f.analyst.UserID, ev.CollectedBy)

	chain, err := f.svc.CustodyChain(ctx, f.supervisor, ev.ID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, custody.ActionCollected, chain[0].Action)
	assert.Equal(t, 1, chain[0].Sequence)
	assert.Equal(t, ev.SHA256Hash, chain[0].PrevHash)
	assert.Equal(t, custody.GenesisLocation, *chain[0].Location)
	assert.Equal(t, "10.0.0.5", *chain[0].IPAddress)

	rows := f.auditRows(t, audit.ActionUploadedEvidence)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"evidenceNumber":"EV-1","fileName":"sample.exe","caseId":"`+c.ID+`"}`, string(rows[0].Details))
}

func TestCreateEvidenceHashesFileNameWithoutContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.newCase(t, "CASE-1")

	req := func(number string) *models.CreateEvidenceRequest {
		return &models.CreateEvidenceRequest{CaseID: c.ID, EvidenceNumber: number, Type: "log", FileName: "auth.log"}
	}
	a, err := f.svc.CreateEvidence(ctx, f.admin, req("EV-1"))
	require.NoError(t, err)
	b, err := f.svc.CreateEvidence(ctx, f.admin, req("EV-2"))
	require.NoError(t, err)

	assert.Equal(t, digest.String("auth.log"), a.SHA256Hash)
	assert.Equal(t, a.SHA256Hash, b.SHA256Hash)
	assert.Equal(t, int64(0), *a.FileSize)
}

func TestCreateEvidenceRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.newCase(t, "CASE-1")

	_, err := f.svc.CreateEvidence(ctx, f.analyst, &models.CreateEvidenceRequest{CaseID: "missing", EvidenceNumber: "EV-1", Type: "log", FileName: "a.log"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.CreateEvidence(ctx, f.analyst, &models.CreateEvidenceRequest{CaseID: c.ID, EvidenceNumber: "EV-1", Type: "log", FileName: "../../etc/passwd"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.svc.CreateEvidence(ctx, f.supervisor, &models.CreateEvidenceRequest{CaseID: c.ID, EvidenceNumber: "EV-1", Type: "log", FileName: "a.log"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.CreateEvidence(ctx, f.analyst, &models.CreateEvidenceRequest{CaseID: c.ID, Type: "log", FileName: "a.log"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	farFuture := time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.CreateEvidence(ctx, f.analyst, &models.CreateEvidenceRequest{CaseID: c.ID, EvidenceNumber: "EV-1", Type: "log", FileName: "a.log", CollectedAt: &farFuture})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	items, err := f.store.ListEvidence(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, f.auditRows(t, audit.ActionUploadedEvidence))
}

func TestCreateEvidenceCollectedAtRoundTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.newCase(t, "CASE-1")

	for i, at := range []time.Time{
		time.Date(1700, 6, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2250, 12, 31, 23, 59, 59, 0, time.UTC),
	} {
		ev, err := f.svc.CreateEvidence(ctx, f.analyst, &models.CreateEvidenceRequest{
			CaseID: c.ID, EvidenceNumber: fmt.Sprintf("EV-%d", i), Type: "log", FileName: "a.log", CollectedAt: &at,
		})
		require.NoError(t, err)

		stored, err := f.store.GetEvidence(ctx, ev.ID)
		require.NoError(t, err)
		assert.True(t, at.Equal(stored.CollectedAt), "stored %s want %s", stored.CollectedAt, at)
		assert.True(t, ev.CollectedAt.Equal(stored.CollectedAt))
	}
}

func TestListEvidenceUnknownCase(t *testing.T) {
	f := newFixture(t)
	c := f.newCase(t, "CASE-1")
	f.newEvidence(t, c.ID, "EV-1")

	items, err := f.svc.ListEvidence(context.Background(), f.auditor, "missing")
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = f.svc.ListEvidence(context.Background(), f.auditor, "")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCustodyAppendVerifyAndReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.newCase(t, "CASE-1")
	ev := f.newEvidence(t, c.ID, "EV-1")

	loc := "Lab 2"
	for _, action := range []string{"transferred", "analyzed"} {
		f.clock.Set(f.clock.Now().Add(time.Minute))
		_, err := f.svc.AddCustodyEntry(ctx, f.analyst, ev.ID, &models.AddCustodyRequest{Action: action, Location: &loc})
		require.NoError(t, err)
	}

	chain, err := f.svc.CustodyChain(ctx, f.admin, ev.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "analyzed", chain[0].Action)
	assert.Equal(t, 3, chain[0].Sequence)
	assert.Equal(t, chain[1].EntryHash, chain[0].PrevHash)

	v, err := f.svc.VerifyCustody(ctx, f.supervisor, ev.ID)
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.Equal(t, 3, v.Total)
	assert.Equal(t, chain[0].EntryHash, v.LastEntryHash)

	pdf, err := f.svc.CustodyReport(ctx, f.supervisor, ev.ID)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf.Content, []byte("%PDF-")))

	assert.Len(t, f.auditRows(t, audit.ActionAddedCustodyEntry), 2)
	assert.Len(t, f.auditRows(t, audit.ActionVerifiedCustodyChain), 1)
	assert.Len(t, f.auditRows(t, audit.ActionExportedCustodyReport), 1)
}

func TestCustodyRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.newCase(t, "CASE-1")
	ev := f.newEvidence(t, c.ID, "EV-1")

	_, err := f.svc.AddCustodyEntry(ctx, f.supervisor, ev.ID, &models.AddCustodyRequest{Action: "moved"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.CustodyChain(ctx, f.auditor, ev.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.AddCustodyEntry(ctx, f.analyst, "missing", &models.AddCustodyRequest{Action: "moved"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.AddCustodyEntry(ctx, f.analyst, ev.ID, &models.AddCustodyRequest{Action: " "})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCreateAnalysis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.newCase(t, "CASE-1")
	other := f.newCase(t, "CASE-2")
	ev := f.newEvidence(t, c.ID, "EV-1")
	foreign := f.newEvidence(t, other.ID, "EV-2")

	confidence := 87
	req := &models.CreateAnalysisRequest{
		CaseID:       c.ID,
		EvidenceID:   &ev.ID,
		ModuleType:   "malware",
		AnalysisType: "static",
		Results:      json.RawMessage(`{"family":"lockbit","iocs":["1.2.3.4"]}`),
		Confidence:   &confidence,
	}
	r, err := f.svc.CreateAnalysis(ctx, f.analyst, req)
	require.NoError(t, err)
	assert.False(t, r.Flagged)

	list, err := f.svc.ListAnalysis(ctx, f.auditor, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, string(req.Results), string(list[0].Results))

	req.EvidenceID = &foreign.ID
	_, err = f.svc.CreateAnalysis(ctx, f.analyst, req)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	req.EvidenceID = nil
	req.Results = json.RawMessage(`not json`)
	_, err = f.svc.CreateAnalysis(ctx, f.analyst, req)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	req.Results = json.RawMessage(`{}`)
	req.CaseID = "missing"
	_, err = f.svc.CreateAnalysis(ctx, f.analyst, req)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.ListAnalysis(ctx, f.auditor, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Len(t, f.auditRows(t, audit.ActionPerformedAnalysis), 1)
}

func TestAuditLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.newCase(t, "CASE-1")

	_, err := f.svc.AuditLogs(ctx, f.analyst, 10)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	logs, err := f.svc.AuditLogs(ctx, f.auditor, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, audit.ActionCreatedCase, logs[0].Action)
	assert.Len(t, f.auditRows(t, audit.ActionViewedAuditLogs), 1)
}

func TestStatsCompletedCasesMonthBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	closeAt := func(number string, at time.Time) {
		c := f.newCase(t, number)
		f.clock.Set(at)
		_, err := f.svc.UpdateCaseStatus(ctx, f.supervisor, c.ID, &models.UpdateCaseStatusRequest{Status: models.StatusClosed})
		require.NoError(t, err)
	}

	closeAt("FEB", time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC))
	closeAt("MAR", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	f.newCase(t, "OPEN")

	f.clock.Set(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	st, err := f.svc.Stats(ctx, f.auditor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.CompletedCases)
	assert.Equal(t, int64(1), st.ActiveCases)
}

func TestMonthStartUsesConfiguredZone(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	s := &Service{now: func() time.Time { return time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC) }, loc: est}

	assert.True(t, s.monthStart().Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, est)))
}

func TestResolveActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.ResolveActor(ctx, f.auditor.UserID, "1.1.1.1", "curl")
	require.NoError(t, err)
	assert.Equal(t, models.Actor{UserID: "auditor-1", Role: models.RoleAuditor, IPAddress: "1.1.1.1", UserAgent: "curl"}, a)

	_, err = f.svc.ResolveActor(ctx, "ghost", "", "")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestRecordLoginKeepsCreatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "ana@example.org"

	first, err := f.svc.RecordLogin(ctx, &models.User{ID: "ana", Email: &email, Role: models.RoleAnalyst}, "1.1.1.1", "ua")
	require.NoError(t, err)

	f.clock.Set(f.clock.Now().Add(24 * time.Hour))
	second, err := f.svc.RecordLogin(ctx, &models.User{ID: "ana", Email: &email, Role: models.RoleAnalyst}, "1.1.1.1", "ua")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Len(t, f.auditRows(t, audit.ActionLoggedIn), 2)

	u, err := f.svc.Profile(ctx, models.Actor{UserID: "ana", Role: models.RoleAnalyst})
	require.NoError(t, err)
	assert.Equal(t, email, *u.Email)
}
