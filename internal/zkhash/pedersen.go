package zkhash

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/iden3/go-iden3-crypto/babyjub"
)

const (
	windowSize        = 4  // bits per window: three magnitude bits and a sign bit
	windowsPerSegment = 50 // windows hashed against one base point
	bitsPerSegment    = windowSize * windowsPerSegment
	generatorPrefix   = "PedersenGenerator"
)

var (
	basesMu sync.Mutex
	bases   []*babyjub.Point
)

// PedersenPoint hashes data onto BabyJubJub. Bits are read little-endian
// within each byte, one base point per 200-bit segment.
func PedersenPoint(data []byte) *babyjub.Point {
	bits := bytesToBits(data)
	if len(bits) == 0 {
		return babyjub.NewPoint()
	}
	segments := (len(bits)-1)/bitsPerSegment + 1

	acc := babyjub.NewPoint().Projective()
	for s := 0; s < segments; s++ {
		end := (s + 1) * bitsPerSegment
		if end > len(bits) {
			end = len(bits)
		}
		scalar := segmentScalar(bits[s*bitsPerSegment : end])
		if scalar.Sign() < 0 {
			scalar.Add(babyjub.SubOrder, scalar)
		}
		term := babyjub.NewPoint().Mul(scalar, basePoint(s))
		acc = babyjub.NewPoint().Projective().Add(acc, term.Projective())
	}
	return acc.Affine()
}

// PedersenHash is the X coordinate of PedersenPoint, the value the pool
// circuit uses for commitments and nullifier hashes.
func PedersenHash(data []byte) fr.Element {
	var e fr.Element
	e.SetBigInt(PedersenPoint(data).X)
	return e
}

// PedersenHashHex is PedersenHash encoded as 0x-prefixed hex.
func PedersenHashHex(data []byte) string {
	return ToHex(PedersenHash(data))
}

// segmentScalar encodes each window as (1 + b0 + 2b1 + 4b2) * (-1)^b3,
// shifted by 5 bits per window. Missing trailing bits count as zero.
func segmentScalar(bits []uint8) *big.Int {
	scalar := new(big.Int)
	for w := 0; w*windowSize < len(bits); w++ {
		var window [windowSize]uint8
		copy(window[:], bits[w*windowSize:])

		v := int64(1 + window[0] + 2*window[1] + 4*window[2])
		if window[3] == 1 {
			v = -v
		}
		term := big.NewInt(v)
		term.Lsh(term, uint(5*w))
		scalar.Add(scalar, term)
	}
	return scalar
}

func bytesToBits(data []byte) []uint8 {
	bits := make([]uint8, 0, len(data)*8)
	for _, b := range data {
		for i := 0; i < 8; i++ {
			bits = append(bits, (b>>i)&1)
		}
	}
	return bits
}

// basePoint returns the base point of segment idx, deriving and caching it
// on first use.
func basePoint(idx int) *babyjub.Point {
	basesMu.Lock()
	defer basesMu.Unlock()

	for len(bases) <= idx {
		bases = append(bases, deriveBasePoint(len(bases)))
	}
	return bases[idx]
}

// deriveBasePoint hashes "PedersenGenerator_<idx>_<try>" (both zero padded to
// 32 digits) with BLAKE-256 and decompresses the digest until it lands on the
// curve, then clears the cofactor.
func deriveBasePoint(idx int) *babyjub.Point {
	for try := 0; ; try++ {
		h := blake256.New()
		fmt.Fprintf(h, "%s_%032d_%032d", generatorPrefix, idx, try)

		var buf [32]byte
		copy(buf[:], h.Sum(nil))
		buf[31] &= 0xBF // bit 254 off; bit 255 carries the sign of x

		p, err := babyjub.NewPoint().Decompress(buf)
		if err != nil {
			continue
		}
		p8 := babyjub.NewPoint().Mul(big.NewInt(8), p)
		if !p8.InSubGroup() {
			panic(fmt.Sprintf("pedersen base point %d is not in the subgroup", idx))
		}
		return p8
	}
}
