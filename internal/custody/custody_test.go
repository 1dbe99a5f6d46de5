package custody

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/digest"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/store/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

func sealedChain(t *testing.T, ev *models.Evidence, actions ...string) []models.CustodyEntry {
	t.Helper()
	chain := make([]models.CustodyEntry, 0, len(actions))
	prev := ev.SHA256Hash
	for i, action := range actions {
		e := models.CustodyEntry{
			ID:         uuid.NewString(),
			EvidenceID: ev.ID,
			Action:     action,
			UserID:     "u1",
			Timestamp:  t0.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, Seal(&e, prev, i+1))
		prev = e.EntryHash
		chain = append(chain, e)
	}
	return chain
}

func testEvidence() *models.Evidence {
	return &models.Evidence{ID: "ev-1", SHA256Hash: digest.String("photo.jpg")}
}

func TestSealIsDeterministic(t *testing.T) {
	loc := "Lab 3"
	a := models.CustodyEntry{EvidenceID: "ev-1", Action: "transferred", UserID: "u1", Timestamp: t0, Location: &loc}
	b := a

	require.NoError(t, Seal(&a, "prev", 2))
	require.NoError(t, Seal(&b, "prev", 2))
	assert.Equal(t, a.EntryHash, b.EntryHash)
	assert.True(t, digest.Valid(a.EntryHash))

	// The timestamp hashes in UTC regardless of the value's location.
	c := a
	c.Timestamp = t0.In(time.FixedZone("EST", -5*3600))
	assert.Equal(t, a.EntryHash, EntryHash(&c))

	c.Action = "destroyed"
	assert.NotEqual(t, a.EntryHash, EntryHash(&c))
}

func TestEntryHashSeparatesFields(t *testing.T) {
	loc1, notes1 := "Lab 2\nsealed bag", "intact"
	loc2, notes2 := "Lab 2", "sealed bag\nintact"
	a := models.CustodyEntry{EvidenceID: "ev-1", Action: "transferred", UserID: "u1", Timestamp: t0, Location: &loc1, Notes: &notes1}
	b := models.CustodyEntry{EvidenceID: "ev-1", Action: "transferred", UserID: "u1", Timestamp: t0, Location: &loc2, Notes: &notes2}
	require.NoError(t, Seal(&a, "prev", 2))
	require.NoError(t, Seal(&b, "prev", 2))
	assert.NotEqual(t, a.EntryHash, b.EntryHash)

	empty := ""
	c := models.CustodyEntry{EvidenceID: "ev-1", Action: "transferred", UserID: "u1", Timestamp: t0}
	d := c
	d.Notes = &empty
	assert.NotEqual(t, EntryHash(&c), EntryHash(&d))
}

func TestSealRejectsZeroSequence(t *testing.T) {
	var e models.CustodyEntry
	err := Seal(&e, "prev", 0)
	assert.ErrorIs(t, err, apperr.ErrInternal)
}

func TestGenesis(t *testing.T) {
	ev := testEvidence()
	g := Genesis(ev, models.Actor{UserID: "u1", IPAddress: "192.0.2.10"}, t0)

	assert.Equal(t, ActionCollected, g.Action)
	assert.Equal(t, GenesisLocation, *g.Location)
	assert.Equal(t, GenesisNotes, *g.Notes)
	assert.Equal(t, "192.0.2.10", *g.IPAddress)
	assert.Equal(t, ev.ID, g.EvidenceID)
	assert.NotEmpty(t, g.ID)

	g = Genesis(ev, models.Actor{UserID: "u1"}, t0)
	assert.Nil(t, g.IPAddress)
}

func TestVerify(t *testing.T) {
	ev := testEvidence()

	tests := []struct {
		name    string
		chain   func() []models.CustodyEntry
		ok      bool
		reasons []string
	}{
		{
			name:  "intact chain",
			chain: func() []models.CustodyEntry { return sealedChain(t, ev, "collected", "transferred", "analyzed") },
			ok:    true,
		},
		{
			name: "intact chain in display order",
			chain: func() []models.CustodyEntry {
				c := sealedChain(t, ev, "collected", "transferred", "analyzed")
				c[0], c[2] = c[2], c[0]
				return c
			},
			ok: true,
		},
		{
			name:    "empty chain",
			chain:   func() []models.CustodyEntry { return nil },
			reasons: []string{ReasonEmptyChain},
		},
		{
			name:    "genesis is not collected",
			chain:   func() []models.CustodyEntry { return sealedChain(t, ev, "transferred") },
			reasons: []string{ReasonBadGenesis},
		},
		{
			name: "tampered action",
			chain: func() []models.CustodyEntry {
				c := sealedChain(t, ev, "collected", "transferred", "analyzed")
				c[1].Action = "destroyed"
				return c
			},
			reasons: []string{ReasonEntryMismatch},
		},
		{
			name: "deleted middle entry",
			chain: func() []models.CustodyEntry {
				c := sealedChain(t, ev, "collected", "transferred", "analyzed")
				return []models.CustodyEntry{c[0], c[2]}
			},
			reasons: []string{ReasonSequenceGap, ReasonPrevMismatch},
		},
		{
			name: "evidence hash swapped",
			chain: func() []models.CustodyEntry {
				other := &models.Evidence{ID: ev.ID, SHA256Hash: digest.String("other")}
				return sealedChain(t, other, "collected")
			},
			reasons: []string{ReasonPrevMismatch},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Verify(ev, tt.chain())
			assert.Equal(t, tt.ok, v.OK)

			var reasons []string
			for _, f := range v.Failures {
				reasons = append(reasons, f.Reason)
			}
			assert.Equal(t, tt.reasons, reasons)
		})
	}
}

func TestVerifyReportsLastEntryHash(t *testing.T) {
	ev := testEvidence()
	chain := sealedChain(t, ev, "collected", "transferred")

	v := Verify(ev, chain)
	require.True(t, v.OK)
	assert.Equal(t, 2, v.Total)
	assert.Equal(t, chain[1].EntryHash, v.LastEntryHash)
}

func newEngine(t *testing.T) (*Engine, *sqlite.Store, *models.Evidence) {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "custody.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(s.Close)

	_, err = s.UpsertUser(ctx, &models.User{ID: "u1", Role: models.RoleAnalyst, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)
	c := &models.Case{
		ID: uuid.NewString(), CaseNumber: "CASE-1", Title: "t", Status: models.StatusOpen,
		Priority: models.PriorityMedium, CreatedByID: "u1", CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.CreateCase(ctx, c))

	ev := &models.Evidence{
		ID: uuid.NewString(), CaseID: c.ID, EvidenceNumber: "EV-1", Type: "image",
		FileName: "photo.jpg", SHA256Hash: digest.String("photo.jpg"),
		CollectedBy: "u1", CollectedAt: t0, CreatedAt: t0,
	}
	actor := models.Actor{UserID: "u1", IPAddress: "127.0.0.1"}
	require.NoError(t, s.CreateEvidence(ctx, ev, Genesis(ev, actor, t0), Seal, nil))

	return NewEngine(s), s, ev
}

func TestEngineAppendAndVerify(t *testing.T) {
	engine, _, ev := newEngine(t)
	ctx := context.Background()

	entry := &models.CustodyEntry{EvidenceID: ev.ID, Action: "transferred", UserID: "u1", Timestamp: t0.Add(time.Hour)}
	require.NoError(t, engine.Append(ctx, entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, 2, entry.Sequence)

	chain, err := engine.Chain(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "transferred", chain[0].Action)
	assert.Equal(t, chain[1].EntryHash, chain[0].PrevHash)

	v, err := engine.Verify(ctx, ev)
	require.NoError(t, err)
	assert.True(t, v.OK, "failures: %+v", v.Failures)
	assert.Equal(t, 2, v.Total)
}

func TestEngineConcurrentAppendsNeverFork(t *testing.T) {
	engine, _, ev := newEngine(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- engine.Append(ctx, &models.CustodyEntry{
				EvidenceID: ev.ID,
				Action:     "handled",
				UserID:     "u1",
				Timestamp:  t0.Add(time.Duration(i+1) * time.Second),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	v, err := engine.Verify(ctx, ev)
	require.NoError(t, err)
	assert.True(t, v.OK, "failures: %+v", v.Failures)
	assert.Equal(t, writers+1, v.Total)
}

func TestEngineAppendUnknownEvidence(t *testing.T) {
	engine, _, _ := newEngine(t)
	err := engine.Append(context.Background(), &models.CustodyEntry{
		EvidenceID: uuid.NewString(), Action: "transferred", UserID: "u1", Timestamp: t0,
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEngineChainEmptyIsInternal(t *testing.T) {
	engine, _, _ := newEngine(t)
	_, err := engine.Chain(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, apperr.ErrInternal)
}
