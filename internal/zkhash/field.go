// Package zkhash holds the circuit-friendly hashes used by notes and the
// commitment tree: a Pedersen hash over BabyJubJub and the MiMC sponge over the bn254
// scalar field.
package zkhash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNotInField is returned for values >= the scalar field modulus.
var ErrNotInField = errors.New("value is not a field element")

// ToHex encodes a field element as 0x-prefixed 32-byte big-endian hex.
func ToHex(e fr.Element) string {
	b := e.Bytes()
	return "0x" + hex.EncodeToString(b[:])
}

// FromHex parses 0x-prefixed (or bare) hex into a field element, rejecting
// values outside the field.
func FromHex(s string) (fr.Element, error) {
	var e fr.Element
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return e, fmt.Errorf("empty hex value")
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return e, fmt.Errorf("invalid hex value %q", s)
	}
	if v.Cmp(fr.Modulus()) >= 0 {
		return e, ErrNotInField
	}
	e.SetBigInt(v)
	return e, nil
}

// ToBytes32 is the bytes32 form used in contract calls.
func ToBytes32(e fr.Element) [32]byte {
	return e.Bytes()
}

// ZeroValue is keccak256("tornado") reduced into the field, the value of an
// empty leaf.
func ZeroValue() fr.Element {
	var e fr.Element
	v := new(big.Int).SetBytes(crypto.Keccak256([]byte("tornado")))
	v.Mod(v, fr.Modulus())
	e.SetBigInt(v)
	return e
}

// BigToHex encodes v as 0x-prefixed 32-byte big-endian hex.
func BigToHex(v *big.Int) string {
	var buf [32]byte
	v.FillBytes(buf[:])
	return "0x" + hex.EncodeToString(buf[:])
}

// LittleEndianToHex reads b as a little-endian integer, the way the circuit
// reads nullifier and secret bytes, and returns it as 32-byte hex.
func LittleEndianToHex(b []byte) string {
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	return BigToHex(new(big.Int).SetBytes(be))
}
