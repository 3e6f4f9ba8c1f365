// Package merkle implements the fixed-depth incremental commitment tree.
package merkle

import (
	"errors"
	"fmt"

	"privpool-backend/internal/zkhash"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// DefaultLevels depth of the pool tree
const DefaultLevels = 20

var (
	ErrTreeFull      = errors.New("merkle tree is full")
	ErrLeafNotFound  = errors.New("leaf not found")
	ErrIndexOutRange = errors.New("leaf index out of range")
)

// Proof inclusion path from a leaf to Root. PathIndices[i] is 1 when the
// node at level i is a right child.
type Proof struct {
	Root         string   `json:"root"`
	PathElements []string `json:"pathElements"`
	PathIndices  []int    `json:"pathIndices"`
	LeafIndex    int      `json:"leafIndex"`
}

// Tree incremental append-only merkle tree. Not safe for concurrent use.
type Tree struct {
	levels int
	zeros  []fr.Element   // zeros[l] = root of an empty subtree of height l
	layers [][]fr.Element // layers[0] are leaves
	index  map[string]int // leaf hex -> position
}

// New builds an empty tree of the given depth.
func New(levels int) *Tree {
	t := &Tree{
		levels: levels,
		zeros:  make([]fr.Element, levels+1),
		layers: make([][]fr.Element, levels+1),
		index:  make(map[string]int),
	}
	t.zeros[0] = zkhash.ZeroValue()
	for l := 1; l <= levels; l++ {
		t.zeros[l] = zkhash.HashLeftRight(t.zeros[l-1], t.zeros[l-1])
	}
	return t
}

func (t *Tree) Levels() int { return t.levels }

func (t *Tree) Capacity() int { return 1 << t.levels }

// Len number of inserted leaves
func (t *Tree) Len() int { return len(t.layers[0]) }

// LastLeafIndex is -1 for an empty tree.
func (t *Tree) LastLeafIndex() int { return len(t.layers[0]) - 1 }

// Insert appends one leaf and updates its path to the root.
func (t *Tree) Insert(leaf fr.Element) error {
	if t.Len() >= t.Capacity() {
		return ErrTreeFull
	}
	pos := len(t.layers[0])
	t.layers[0] = append(t.layers[0], leaf)
	t.index[zkhash.ToHex(leaf)] = pos

	idx := pos
	for l := 1; l <= t.levels; l++ {
		idx >>= 1
		left := t.node(l-1, idx*2)
		right := t.node(l-1, idx*2+1)
		parent := zkhash.HashLeftRight(left, right)
		if idx < len(t.layers[l]) {
			t.layers[l][idx] = parent
		} else {
			t.layers[l] = append(t.layers[l], parent)
		}
	}
	return nil
}

// InsertHex parses and inserts a batch of hex leaves, in order.
func (t *Tree) InsertHex(leaves ...string) error {
	for _, h := range leaves {
		leaf, err := zkhash.FromHex(h)
		if err != nil {
			return fmt.Errorf("leaf %d: %w", t.Len(), err)
		}
		if err := t.Insert(leaf); err != nil {
			return err
		}
	}
	return nil
}

// Root current root; the empty-tree root when no leaf was inserted.
func (t *Tree) Root() fr.Element {
	if len(t.layers[t.levels]) == 0 {
		return t.zeros[t.levels]
	}
	return t.layers[t.levels][0]
}

// RootHex is Root as 0x hex.
func (t *Tree) RootHex() string {
	return zkhash.ToHex(t.Root())
}

// IndexOf position of a leaf given in hex, or -1.
func (t *Tree) IndexOf(leafHex string) int {
	leaf, err := zkhash.FromHex(leafHex)
	if err != nil {
		return -1
	}
	if pos, ok := t.index[zkhash.ToHex(leaf)]; ok {
		return pos
	}
	return -1
}

// Path builds the inclusion proof for the leaf at pos.
func (t *Tree) Path(pos int) (*Proof, error) {
	if pos < 0 || pos >= t.Len() {
		return nil, ErrIndexOutRange
	}
	p := &Proof{
		Root:         t.RootHex(),
		PathElements: make([]string, t.levels),
		PathIndices:  make([]int, t.levels),
		LeafIndex:    pos,
	}
	idx := pos
	for l := 0; l < t.levels; l++ {
		p.PathIndices[l] = idx & 1
		p.PathElements[l] = zkhash.ToHex(t.node(l, idx^1))
		idx >>= 1
	}
	return p, nil
}

// ProofFor looks a leaf up by value and returns its path.
func (t *Tree) ProofFor(leafHex string) (*Proof, error) {
	pos := t.IndexOf(leafHex)
	if pos < 0 {
		return nil, ErrLeafNotFound
	}
	return t.Path(pos)
}

// Verify recomputes the root from a proof.
func Verify(leafHex string, p *Proof) (bool, error) {
	cur, err := zkhash.FromHex(leafHex)
	if err != nil {
		return false, err
	}
	for l := range p.PathElements {
		sibling, err := zkhash.FromHex(p.PathElements[l])
		if err != nil {
			return false, err
		}
		if p.PathIndices[l] == 0 {
			cur = zkhash.HashLeftRight(cur, sibling)
		} else {
			cur = zkhash.HashLeftRight(sibling, cur)
		}
	}
	return zkhash.ToHex(cur) == p.Root, nil
}

func (t *Tree) node(level, idx int) fr.Element {
	if idx < len(t.layers[level]) {
		return t.layers[level][idx]
	}
	return t.zeros[level]
}
