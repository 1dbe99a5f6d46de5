// Package storetest holds the conformance suite every store.Store
// implementation must pass. Driver packages call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/digest"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty, migrated store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"UpsertUserIsIdempotent", testUpsertUser},
		{"GetUserNotFound", testGetUserNotFound},
		{"CreateAndGetCase", testCreateAndGetCase},
		{"DuplicateCaseNumberConflicts", testDuplicateCaseNumber},
		{"ListCasesNewestFirst", testListCasesOrder},
		{"UpdateCaseStatus", testUpdateCaseStatus},
		{"DeleteCaseCascades", testDeleteCaseCascades},
		{"CreateEvidenceSeedsChain", testCreateEvidence},
		{"CreateEvidenceUnknownCase", testCreateEvidenceUnknownCase},
		{"ListEvidenceFiltersByCase", testListEvidence},
		{"AppendCustodyLinksEntries", testAppendCustody},
		{"AppendCustodyUnknownEvidence", testAppendCustodyUnknownEvidence},
		{"AnalysisResults", testAnalysisResults},
		{"AuditLogsNewestFirstWithLimit", testAuditLogs},
		{"StatsMonthBoundary", testStats},
		{"EvidenceDigestsOldestFirst", testEvidenceDigests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(s.Close)
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// seal links entries the way the custody engine does, with a simplified payload.
func seal(e *models.CustodyEntry, prevHash string, seq int) error {
	e.Sequence = seq
	e.PrevHash = prevHash
	n := fmt.Sprint(seq)
	e.EntryHash = digest.Fields(&prevHash, &e.EvidenceID, &n, &e.Action)
	return nil
}

func seedUser(t *testing.T, s store.Store, id string, role models.Role) *models.User {
	t.Helper()
	u, err := s.UpsertUser(context.Background(), &models.User{
		ID:        id,
		Email:     ptr(id + "@example.org"),
		FirstName: ptr("Test"),
		Role:      role,
		CreatedAt: base,
		UpdatedAt: base,
	})
	require.NoError(t, err)
	return u
}

func seedCase(t *testing.T, s store.Store, number, createdBy string, at time.Time) *models.Case {
	t.Helper()
	c := &models.Case{
		ID:          uuid.NewString(),
		CaseNumber:  number,
		Title:       "Case " + number,
		Status:      models.StatusOpen,
		Priority:    models.PriorityMedium,
		CreatedByID: createdBy,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	require.NoError(t, s.CreateCase(context.Background(), c))
	return c
}

func newEvidence(caseID, userID, name string, at time.Time) *models.Evidence {
	return &models.Evidence{
		ID:             uuid.NewString(),
		CaseID:         caseID,
		EvidenceNumber: "EV-" + name,
		Type:           "image",
		FileName:       name,
		FileSize:       ptr(int64(len(name))),
		FilePath:       ptr("/evidence/" + caseID + "/" + name),
		SHA256Hash:     digest.String(name),
		CollectedBy:    userID,
		CollectedAt:    at,
		CreatedAt:      at,
	}
}

func genesisFor(ev *models.Evidence) *models.CustodyEntry {
	return &models.CustodyEntry{
		ID:         uuid.NewString(),
		EvidenceID: ev.ID,
		Action:     "collected",
		UserID:     ev.CollectedBy,
		Timestamp:  ev.CreatedAt,
		Location:   ptr("Evidence Collection Site"),
		Notes:      ptr("Initial evidence collection"),
	}
}

func seedEvidence(t *testing.T, s store.Store, caseID, userID, name string, at time.Time) *models.Evidence {
	t.Helper()
	ev := newEvidence(caseID, userID, name, at)
	require.NoError(t, s.CreateEvidence(context.Background(), ev, genesisFor(ev), seal, nil))
	return ev
}

func auditRow(userID, action string, at time.Time) *models.AuditLog {
	return &models.AuditLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Timestamp: at,
	}
}

func assertSameInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func testUpsertUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := seedUser(t, s, "user-1", models.RoleAnalyst)
	assert.Equal(t, models.RoleAnalyst, u.Role)

	later := base.Add(time.Hour)
	again, err := s.UpsertUser(ctx, &models.User{
		ID:        "user-1",
		Email:     ptr("user-1@example.org"),
		FirstName: ptr("Renamed"),
		Role:      models.RoleSupervisor,
		CreatedAt: later,
		UpdatedAt: later,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", *again.FirstName)
	assert.Equal(t, models.RoleSupervisor, again.Role)
	assertSameInstant(t, base, again.CreatedAt)
	assertSameInstant(t, later, again.UpdatedAt)

	got, err := s.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, again.Role, got.Role)
}

func testGetUserNotFound(t *testing.T, s store.Store) {
	_, err := s.GetUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testCreateAndGetCase(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAnalyst)
	c := seedCase(t, s, "CASE-2025-0001", "u1", base)

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.CaseNumber, got.CaseNumber)
	assert.Equal(t, c.Title, got.Title)
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.Equal(t, models.PriorityMedium, got.Priority)
	assert.Nil(t, got.Description)
	assert.Nil(t, got.AssignedToID)
	assert.Equal(t, "u1", got.CreatedByID)
	assertSameInstant(t, base, got.CreatedAt)

	_, err = s.GetCase(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testDuplicateCaseNumber(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAnalyst)
	seedCase(t, s, "CASE-1", "u1", base)

	dup := &models.Case{
		ID:          uuid.NewString(),
		CaseNumber:  "CASE-1",
		Title:       "dup",
		Status:      models.StatusOpen,
		Priority:    models.PriorityLow,
		CreatedByID: "u1",
		CreatedAt:   base,
		UpdatedAt:   base,
	}
	err := s.CreateCase(ctx, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	cases, err := s.ListCases(ctx)
	require.NoError(t, err)
	assert.Len(t, cases, 1)
}

func testListCasesOrder(t *testing.T, s store.Store) {
	seedUser(t, s, "u1", models.RoleAnalyst)
	older := seedCase(t, s, "CASE-A", "u1", base)
	newer := seedCase(t, s, "CASE-B", "u1", base.Add(time.Minute))

	cases, err := s.ListCases(context.Background())
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, newer.ID, cases[0].ID)
	assert.Equal(t, older.ID, cases[1].ID)
}

func testUpdateCaseStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAnalyst)
	c := seedCase(t, s, "CASE-1", "u1", base)

	at := base.Add(2 * time.Hour)
	updated, err := s.UpdateCaseStatus(ctx, c.ID, models.StatusClosed, at)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, updated.Status)
	assertSameInstant(t, at, updated.UpdatedAt)
	assertSameInstant(t, base, updated.CreatedAt)

	_, err = s.UpdateCaseStatus(ctx, uuid.NewString(), models.StatusClosed, at)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testDeleteCaseCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAdmin)
	c := seedCase(t, s, "CASE-1", "u1", base)
	ev := seedEvidence(t, s, c.ID, "u1", "disk.img", base)
	require.NoError(t, s.CreateAnalysisResult(ctx, &models.AnalysisResult{
		ID: uuid.NewString(), CaseID: c.ID, EvidenceID: &ev.ID,
		ModuleType: "image", AnalysisType: "ela", Results: json.RawMessage(`{}`),
		AnalyzedBy: "u1", AnalyzedAt: base, CreatedAt: base,
	}))

	require.NoError(t, s.DeleteCase(ctx, c.ID))

	_, err := s.GetCase(ctx, c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.GetEvidence(ctx, ev.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	chain, err := s.ListCustody(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, chain)
	results, err := s.ListAnalysisResults(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, s.DeleteCase(ctx, c.ID), apperr.ErrNotFound)
}

func testCreateEvidence(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAnalyst)
	c := seedCase(t, s, "CASE-1", "u1", base)

	ev := newEvidence(c.ID, "u1", "photo.jpg", base)
	audit := auditRow("u1", "uploaded_evidence", base)
	audit.ResourceType = ptr("evidence")
	audit.ResourceID = ptr(ev.ID)
	require.NoError(t, s.CreateEvidence(ctx, ev, genesisFor(ev), seal, audit))

	got, err := s.GetEvidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.SHA256Hash, got.SHA256Hash)
	assert.Equal(t, *ev.FilePath, *got.FilePath)
	assert.Equal(t, *ev.FileSize, *got.FileSize)

	chain, err := s.ListCustody(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "collected", chain[0].Action)
	assert.Equal(t, 1, chain[0].Sequence)
	assert.Equal(t, ev.SHA256Hash, chain[0].PrevHash)
	assert.NotEmpty(t, chain[0].EntryHash)
	assert.Equal(t, "Evidence Collection Site", *chain[0].Location)

	logs, err := s.ListAuditLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "uploaded_evidence", logs[0].Action)
	assert.Equal(t, ev.ID, *logs[0].ResourceID)
}

func testCreateEvidenceUnknownCase(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAnalyst)

	ev := newEvidence(uuid.NewString(), "u1", "orphan.bin", base)
	err := s.CreateEvidence(ctx, ev, genesisFor(ev), seal, auditRow("u1", "uploaded_evidence", base))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	all, err := s.ListEvidence(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
	chain, err := s.ListCustody(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, chain)
	logs, err := s.ListAuditLogs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func testListEvidence(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAnalyst)
	c1 := seedCase(t, s, "CASE-1", "u1", base)
	c2 := seedCase(t, s, "CASE-2", "u1", base)
	first := seedEvidence(t, s, c1.ID, "u1", "a.txt", base)
	second := seedEvidence(t, s, c1.ID, "u1", "b.txt", base.Add(time.Second))
	seedEvidence(t, s, c2.ID, "u1", "c.txt", base.Add(2*time.Second))

	all, err := s.ListEvidence(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byCase, err := s.ListEvidence(ctx, c1.ID)
	require.NoError(t, err)
	require.Len(t, byCase, 2)
	assert.Equal(t, second.ID, byCase[0].ID)
	assert.Equal(t, first.ID, byCase[1].ID)

	none, err := s.ListEvidence(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testAppendCustody(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAnalyst)
	c := seedCase(t, s, "CASE-1", "u1", base)
	ev := seedEvidence(t, s, c.ID, "u1", "drive.e01", base)

	for i, action := range []string{"transferred", "analyzed"} {
		entry := &models.CustodyEntry{
			ID:         uuid.NewString(),
			EvidenceID: ev.ID,
			Action:     action,
			UserID:     "u1",
			Timestamp:  base.Add(time.Duration(i+1) * time.Minute),
			IPAddress:  ptr("10.0.0.1"),
		}
		require.NoError(t, s.AppendCustody(ctx, entry, seal))
		assert.Equal(t, i+2, entry.Sequence)
	}

	chain, err := s.ListCustody(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "analyzed", chain[0].Action)
	assert.Equal(t, "transferred", chain[1].Action)
	assert.Equal(t, "collected", chain[2].Action)
	assert.Equal(t, chain[1].EntryHash, chain[0].PrevHash)
	assert.Equal(t, chain[2].EntryHash, chain[1].PrevHash)
	assert.Equal(t, "10.0.0.1", *chain[0].IPAddress)
	assert.Nil(t, chain[0].Location)
}

func testAppendCustodyUnknownEvidence(t *testing.T, s store.Store) {
	seedUser(t, s, "u1", models.RoleAnalyst)
	entry := &models.CustodyEntry{
		ID:         uuid.NewString(),
		EvidenceID: uuid.NewString(),
		Action:     "transferred",
		UserID:     "u1",
		Timestamp:  base,
	}
	err := s.AppendCustody(context.Background(), entry, seal)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testAnalysisResults(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAnalyst)
	c := seedCase(t, s, "CASE-1", "u1", base)
	ev := seedEvidence(t, s, c.ID, "u1", "clip.mp4", base)

	first := &models.AnalysisResult{
		ID: uuid.NewString(), CaseID: c.ID, EvidenceID: &ev.ID,
		ModuleType: "deepfake", AnalysisType: "face-swap",
		Results:    json.RawMessage(`{"score":0.93,"frames":[1,2]}`),
		Confidence: ptr(93), Flagged: true,
		AnalyzedBy: "u1", AnalyzedAt: base, CreatedAt: base,
	}
	second := &models.AnalysisResult{
		ID: uuid.NewString(), CaseID: c.ID,
		ModuleType: "network", AnalysisType: "pcap-summary",
		Results:    json.RawMessage(`{"packets":10}`),
		AnalyzedBy: "u1", AnalyzedAt: base.Add(time.Minute), CreatedAt: base.Add(time.Minute),
	}
	require.NoError(t, s.CreateAnalysisResult(ctx, first))
	require.NoError(t, s.CreateAnalysisResult(ctx, second))

	results, err := s.ListAnalysisResults(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, second.ID, results[0].ID)
	assert.Nil(t, results[0].Confidence)
	assert.Nil(t, results[0].EvidenceID)
	assert.False(t, results[0].Flagged)
	assert.Equal(t, 93, *results[1].Confidence)
	assert.True(t, results[1].Flagged)
	assert.JSONEq(t, `{"score":0.93,"frames":[1,2]}`, string(results[1].Results))

	bad := &models.AnalysisResult{
		ID: uuid.NewString(), CaseID: uuid.NewString(),
		ModuleType: "image", AnalysisType: "ela", Results: json.RawMessage(`{}`),
		AnalyzedBy: "u1", AnalyzedAt: base, CreatedAt: base,
	}
	assert.ErrorIs(t, s.CreateAnalysisResult(ctx, bad), apperr.ErrNotFound)
}

func testAuditLogs(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAuditor)

	for i := 0; i < 5; i++ {
		l := auditRow("u1", fmt.Sprintf("action_%d", i), base.Add(time.Duration(i)*time.Second))
		if i == 4 {
			l.Details = json.RawMessage(`{"status":"closed"}`)
			l.UserAgent = ptr("curl/8")
		}
		require.NoError(t, s.InsertAuditLog(ctx, l))
	}

	logs, err := s.ListAuditLogs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "action_4", logs[0].Action)
	assert.Equal(t, "action_2", logs[2].Action)
	assert.JSONEq(t, `{"status":"closed"}`, string(logs[0].Details))
	assert.Equal(t, "curl/8", *logs[0].UserAgent)
	assert.Empty(t, logs[1].Details)

	all, err := s.ListAuditLogs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAnalyst)
	monthStart := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	open := seedCase(t, s, "CASE-OPEN", "u1", base)
	progress := seedCase(t, s, "CASE-PROG", "u1", base)
	closedNow := seedCase(t, s, "CASE-CLOSED-NOW", "u1", base)
	closedBefore := seedCase(t, s, "CASE-CLOSED-FEB", "u1", base)
	archived := seedCase(t, s, "CASE-ARCH", "u1", base)

	_, err := s.UpdateCaseStatus(ctx, progress.ID, models.StatusInProgress, base)
	require.NoError(t, err)
	_, err = s.UpdateCaseStatus(ctx, closedNow.ID, models.StatusClosed, monthStart)
	require.NoError(t, err)
	_, err = s.UpdateCaseStatus(ctx, closedBefore.ID, models.StatusClosed, monthStart.Add(-time.Microsecond))
	require.NoError(t, err)
	_, err = s.UpdateCaseStatus(ctx, archived.ID, models.StatusArchived, base)
	require.NoError(t, err)

	seedEvidence(t, s, open.ID, "u1", "one", base)
	seedEvidence(t, s, open.ID, "u1", "two", base)
	require.NoError(t, s.CreateAnalysisResult(ctx, &models.AnalysisResult{
		ID: uuid.NewString(), CaseID: open.ID, ModuleType: "image", AnalysisType: "ela",
		Results: json.RawMessage(`{}`), AnalyzedBy: "u1", AnalyzedAt: base, CreatedAt: base,
	}))

	st, err := s.Stats(ctx, monthStart)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{
		ActiveCases:    2,
		EvidenceCount:  2,
		ActiveAnalyses: 1,
		CompletedCases: 1,
	}, *st)
}

func testEvidenceDigests(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "u1", models.RoleAnalyst)
	c := seedCase(t, s, "CASE-1", "u1", base)
	first := seedEvidence(t, s, c.ID, "u1", "first", base)
	second := seedEvidence(t, s, c.ID, "u1", "second", base.Add(time.Second))

	digests, err := s.EvidenceDigests(ctx)
	require.NoError(t, err)
	require.Len(t, digests, 2)
	assert.Equal(t, models.EvidenceDigest{EvidenceID: first.ID, SHA256Hash: first.SHA256Hash}, digests[0])
	assert.Equal(t, second.ID, digests[1].EvidenceID)
}
