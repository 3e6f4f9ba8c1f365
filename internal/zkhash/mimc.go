package zkhash

import (
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	mimcRounds = 220
	mimcSeed   = "mimcsponge"
)

// mimcConstants c[0] = c[219] = 0; c[i] = keccak256^(i+1)(seed) mod p in between.
var mimcConstants = sync.OnceValue(func() []fr.Element {
	cts := make([]fr.Element, mimcRounds)
	c := crypto.Keccak256([]byte(mimcSeed))
	for i := 1; i < mimcRounds; i++ {
		c = crypto.Keccak256(c)
		cts[i].SetBytes(c)
	}
	cts[0].SetZero()
	cts[mimcRounds-1].SetZero()
	return cts
})

// MiMCSponge is the MiMC Feistel permutation with x^5 rounds and key k.
func MiMCSponge(xL, xR, k fr.Element) (fr.Element, fr.Element) {
	cts := mimcConstants()
	for i := 0; i < mimcRounds; i++ {
		var t, t5 fr.Element
		t.Add(&xL, &k)
		t.Add(&t, &cts[i])
		t5.Square(&t)
		t5.Square(&t5)
		t5.Mul(&t5, &t)

		if i < mimcRounds-1 {
			var next fr.Element
			next.Add(&xR, &t5)
			xR = xL
			xL = next
		} else {
			xR.Add(&xR, &t5)
		}
	}
	return xL, xR
}

// HashLeftRight compresses two tree nodes into their parent: absorb left,
// permute, add right into the rate, permute again.
func HashLeftRight(left, right fr.Element) fr.Element {
	var zero fr.Element
	r, c := MiMCSponge(left, zero, zero)
	r.Add(&r, &right)
	r, _ = MiMCSponge(r, c, zero)
	return r
}
