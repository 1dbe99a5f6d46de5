package services

import (
	"context"
	"sync"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/digest"
	"github.com/caseledger/custody-server/internal/metrics"
	"github.com/caseledger/custody-server/internal/models"
	"go.uber.org/zap"
)

// Proof step positions.
const (
	PositionLeft  = "left"
	PositionRight = "right"
)

// MerkleService keeps a Merkle tree over every evidence hash so a client
// can check that an item was registered without trusting the listing.
type MerkleService struct {
	mu            sync.RWMutex
	leaves        []models.EvidenceDigest
	layers        [][]string
	root          string
	lastBuildTime time.Time
	logger        *zap.SugaredLogger
}

// NewMerkleService creates an empty tree.
func NewMerkleService(logger *zap.SugaredLogger) *MerkleService {
	return &MerkleService{logger: logger}
}

// Build replaces the tree with one over digests, in the given order.
func (m *MerkleService) Build(digests []models.EvidenceDigest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.leaves = append([]models.EvidenceDigest(nil), digests...)
	m.buildTree()
	m.lastBuildTime = time.Now().UTC()

	m.logger.Infow("Merkle tree rebuilt",
		"leaves", len(m.leaves),
		"root", m.root,
	)
}

// Root returns the current Merkle root; empty when there are no leaves.
func (m *MerkleService) Root() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

// LeafCount returns the number of leaves.
func (m *MerkleService) LeafCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.leaves)
}

// LastBuildTime returns when the tree was last rebuilt.
func (m *MerkleService) LastBuildTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBuildTime
}

// Proof returns the inclusion proof for the leaf at index.
func (m *MerkleService) Proof(index int) (*models.MerkleProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.leaves) {
		return nil, apperr.ErrNotFound.WithMessagef("no leaf at index %d (tree has %d)", index, len(m.leaves))
	}

	proof := &models.MerkleProof{
		LeafHash:   m.leaves[index].SHA256Hash,
		EvidenceID: m.leaves[index].EvidenceID,
		Root:       m.root,
		Index:      index,
		Proof:      make([]models.ProofStep, 0, len(m.layers)),
	}

	current := index
	for i := 0; i < len(m.layers)-1; i++ {
		layer := m.layers[i]
		isRight := current%2 == 1
		sibling := current + 1
		if isRight {
			sibling = current - 1
		}

		// An odd node at the end of a layer is paired with itself.
		if sibling >= len(layer) {
			sibling = current
		}
		position := PositionRight
		if isRight {
			position = PositionLeft
		}
		proof.Proof = append(proof.Proof, models.ProofStep{Hash: layer[sibling], Position: position})

		current /= 2
	}

	return proof, nil
}

// VerifyProof folds the proof path from the leaf and compares the result
// with the claimed root.
func VerifyProof(p *models.MerkleProof) bool {
	if p == nil || p.LeafHash == "" || p.Root == "" {
		return false
	}
	h := digest.Leaf(p.LeafHash)
	for _, step := range p.Proof {
		switch step.Position {
		case PositionLeft:
			h = digest.Pair(step.Hash, h)
		case PositionRight:
			h = digest.Pair(h, step.Hash)
		default:
			return false
		}
	}
	return h == p.Root
}

// buildTree constructs the layers from the leaves. Caller holds the write lock.
func (m *MerkleService) buildTree() {
	if len(m.leaves) == 0 {
		m.root = ""
		m.layers = nil
		return
	}

	current := make([]string, len(m.leaves))
	for i, l := range m.leaves {
		current[i] = digest.Leaf(l.SHA256Hash)
	}
	m.layers = [][]string{current}

	for len(current) > 1 {
		next := make([]string, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			left := current[i]
			right := left
			if i+1 < len(current) {
				right = current[i+1]
			}
			next = append(next, digest.Pair(left, right))
		}
		m.layers = append(m.layers, next)
		current = next
	}

	m.root = current[0]
}

// DigestSource lists every evidence hash, oldest first.
type DigestSource interface {
	EvidenceDigests(ctx context.Context) ([]models.EvidenceDigest, error)
}

// IntegrityWorker periodically rebuilds the Merkle tree from the store.
type IntegrityWorker struct {
	merkle *MerkleService
	source DigestSource
	logger *zap.SugaredLogger
}

// NewIntegrityWorker creates a background integrity worker.
func NewIntegrityWorker(ms *MerkleService, source DigestSource, logger *zap.SugaredLogger) *IntegrityWorker {
	return &IntegrityWorker{merkle: ms, source: source, logger: logger}
}

// Start rebuilds once and then on every tick until ctx is done.
func (w *IntegrityWorker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := w.Rebuild(ctx); err != nil {
		w.logger.Errorw("Initial Merkle rebuild failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Integrity worker stopped")
			return
		case <-ticker.C:
			if err := w.Rebuild(ctx); err != nil {
				w.logger.Errorw("Merkle rebuild failed", "error", err)
			}
		}
	}
}

// Rebuild reloads every evidence hash and rebuilds the tree. On failure the
// previous tree stays in place.
func (w *IntegrityWorker) Rebuild(ctx context.Context) error {
	digests, err := w.source.EvidenceDigests(ctx)
	metrics.RecordMerkleRebuild(len(digests), err)
	if err != nil {
		return err
	}
	w.merkle.Build(digests)
	return nil
}
