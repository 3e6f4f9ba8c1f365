package services

import (
	"context"
	"sort"

	"privpool-backend/internal/models"
)

// DerivationOutcome one candidate note handed out by a generator
type DerivationOutcome struct {
	Note      *models.Note
	Index     uint32
	Recovered bool // commitment already present in the pool's deposit events
	Reused    bool // index came back from a deleted failed deposit
}

// NoteDeriver derives the note at index for the generator's network and pair.
type NoteDeriver func(ctx context.Context, index uint32) (*models.Note, error)

// CommitmentLookup reports whether a commitment was already deposited.
type CommitmentLookup func(ctx context.Context, commitmentHex string) (bool, error)

// DerivationGenerator walks the derivation sequence of one (chain, pair).
// Indices released by failed deposits are handed out again, lowest first,
// before the sequence moves on. Not safe for concurrent use; callers hold
// the pair lock across Next and Commit.
type DerivationGenerator struct {
	pair                 models.Pair
	nextIndex            uint32
	pendingFailedIndices []uint32

	derive NoteDeriver
	lookup CommitmentLookup
}

func NewDerivationGenerator(pair models.Pair, nextIndex uint32, derive NoteDeriver, lookup CommitmentLookup) *DerivationGenerator {
	return &DerivationGenerator{
		pair:      pair,
		nextIndex: nextIndex,
		derive:    derive,
		lookup:    lookup,
	}
}

func (g *DerivationGenerator) Pair() models.Pair { return g.pair }

// NextIndex first index never handed out; persisted as the note count.
func (g *DerivationGenerator) NextIndex() uint32 { return g.nextIndex }

// PendingFailed copy of the indices waiting for reuse.
func (g *DerivationGenerator) PendingFailed() []uint32 {
	return append([]uint32(nil), g.pendingFailedIndices...)
}

// Next returns the next candidate without consuming it; Commit consumes.
// Reused indices go through the same commitment lookup as fresh ones since a
// deposit recorded as failed may still have landed.
func (g *DerivationGenerator) Next(ctx context.Context) (*DerivationOutcome, error) {
	idx, reused := g.nextIndex, false
	if len(g.pendingFailedIndices) > 0 {
		idx, reused = g.pendingFailedIndices[0], true
	}

	n, err := g.derive(ctx, idx)
	if err != nil {
		return nil, err
	}
	out := &DerivationOutcome{Note: n, Index: idx, Reused: reused}
	if g.lookup != nil {
		found, err := g.lookup(ctx, n.CommitmentHex)
		if err != nil {
			return nil, err
		}
		out.Recovered = found
	}
	return out, nil
}

// Commit marks index as used.
func (g *DerivationGenerator) Commit(index uint32) {
	for i, idx := range g.pendingFailedIndices {
		if idx == index {
			g.pendingFailedIndices = append(g.pendingFailedIndices[:i], g.pendingFailedIndices[i+1:]...)
			return
		}
	}
	if index >= g.nextIndex {
		g.nextIndex = index + 1
	}
}

// Release returns index to the pool of reusable indices.
func (g *DerivationGenerator) Release(index uint32) {
	if index >= g.nextIndex {
		return
	}
	for _, idx := range g.pendingFailedIndices {
		if idx == index {
			return
		}
	}
	g.pendingFailedIndices = append(g.pendingFailedIndices, index)
	sort.Slice(g.pendingFailedIndices, func(i, j int) bool {
		return g.pendingFailedIndices[i] < g.pendingFailedIndices[j]
	})
}
