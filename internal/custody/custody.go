// Package custody maintains the append-only, hash-linked chain of custody
// for each evidence item.
//
// Each entry commits to its predecessor: the first entry's PrevHash is the
// evidence SHA-256 and every later entry points at the previous EntryHash.
// Verification recomputes the links and reports every break it finds.
package custody

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/digest"
	"github.com/caseledger/custody-server/internal/metrics"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/store"
	"github.com/google/uuid"
)

// Genesis entry values written alongside every new evidence item.
const (
	ActionCollected = "collected"
	GenesisLocation = "Evidence Collection Site"
	GenesisNotes    = "Initial evidence collection"
)

// Failure reasons reported by Verify.
const (
	ReasonEmptyChain    = "chain is empty"
	ReasonSequenceGap   = "sequence gap"
	ReasonBadGenesis    = "first entry is not a collected entry"
	ReasonPrevMismatch  = "previous hash mismatch"
	ReasonEntryMismatch = "entry hash mismatch"
	ReasonWrongEvidence = "entry belongs to another evidence item"
)

// EntryHash computes the hash an entry commits to. Fields are length-prefixed
// and absent optional fields hash differently from empty ones; the timestamp
// is canonicalised to UTC RFC3339Nano.
func EntryHash(e *models.CustodyEntry) string {
	seq := strconv.Itoa(e.Sequence)
	ts := e.Timestamp.UTC().Format(time.RFC3339Nano)
	return digest.Fields(
		&e.PrevHash,
		&e.EvidenceID,
		&seq,
		&e.Action,
		&e.UserID,
		&ts,
		e.Location,
		e.Notes,
		e.IPAddress,
	)
}

// Seal links e after prevHash at position seq. It satisfies store.SealFunc.
func Seal(e *models.CustodyEntry, prevHash string, seq int) error {
	if seq < 1 {
		return apperr.Internal(nil, "custody sequence must start at 1")
	}
	e.Sequence = seq
	e.PrevHash = prevHash
	e.EntryHash = EntryHash(e)
	return nil
}

var _ store.SealFunc = Seal

// Genesis builds the unsealed "collected" entry for a new evidence item.
func Genesis(ev *models.Evidence, actor models.Actor, at time.Time) *models.CustodyEntry {
	location, notes := GenesisLocation, GenesisNotes
	return &models.CustodyEntry{
		ID:         uuid.NewString(),
		EvidenceID: ev.ID,
		Action:     ActionCollected,
		UserID:     actor.UserID,
		Timestamp:  at,
		Location:   &location,
		Notes:      &notes,
		IPAddress:  optional(actor.IPAddress),
	}
}

// Engine appends to and reads custody chains through the Entity Store.
type Engine struct {
	store store.Store
}

// NewEngine creates a custody engine over s.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Append seals and stores entry as the newest link of its evidence chain.
// Any action string is accepted in any order.
func (e *Engine) Append(ctx context.Context, entry *models.CustodyEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := e.store.AppendCustody(ctx, entry, Seal); err != nil {
		return err
	}
	metrics.CustodyAppendsTotal.WithLabelValues(entry.Action).Inc()
	return nil
}

// Chain returns the full history of an evidence item, newest first.
// An existing evidence item with no entries is reported as INTERNAL.
func (e *Engine) Chain(ctx context.Context, evidenceID string) ([]models.CustodyEntry, error) {
	chain, err := e.store.ListCustody(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, apperr.ErrInternal.WithMessagef("custody chain for evidence %s is empty", evidenceID)
	}
	return chain, nil
}

// Verify recomputes the evidence chain and reports broken links.
func (e *Engine) Verify(ctx context.Context, ev *models.Evidence) (*models.CustodyVerification, error) {
	chain, err := e.store.ListCustody(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	v := Verify(ev, chain)
	metrics.RecordCustodyVerification(v.OK)
	return &v, nil
}

// Verify checks chain (in any order) against the evidence it belongs to.
func Verify(ev *models.Evidence, chain []models.CustodyEntry) models.CustodyVerification {
	v := models.CustodyVerification{EvidenceID: ev.ID, Total: len(chain)}
	if len(chain) == 0 {
		v.Failures = append(v.Failures, models.CustodyFailure{Reason: ReasonEmptyChain})
		return v
	}

	ordered := make([]models.CustodyEntry, len(chain))
	copy(ordered, chain)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	prev, wantSeq := ev.SHA256Hash, 1
	for i := range ordered {
		entry := &ordered[i]
		fail := func(reason, expected, actual string) {
			v.Failures = append(v.Failures, models.CustodyFailure{
				Sequence: entry.Sequence,
				EntryID:  entry.ID,
				Reason:   reason,
				Expected: expected,
				Actual:   actual,
			})
		}

		if entry.EvidenceID != ev.ID {
			fail(ReasonWrongEvidence, ev.ID, entry.EvidenceID)
		}
		if entry.Sequence != wantSeq {
			fail(ReasonSequenceGap, strconv.Itoa(wantSeq), strconv.Itoa(entry.Sequence))
		}
		if i == 0 && entry.Action != ActionCollected {
			fail(ReasonBadGenesis, ActionCollected, entry.Action)
		}
		if entry.PrevHash != prev {
			fail(ReasonPrevMismatch, prev, entry.PrevHash)
		}
		if want := EntryHash(entry); entry.EntryHash != want {
			fail(ReasonEntryMismatch, want, entry.EntryHash)
		}
		prev, wantSeq = entry.EntryHash, entry.Sequence+1
	}

	v.LastEntryHash = ordered[len(ordered)-1].EntryHash
	v.OK = len(v.Failures) == 0
	return v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
