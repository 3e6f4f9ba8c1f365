// Package note derives, parses and serializes deposit notes.
//
// A note is a pure function of (rootKey, index, chainID, pair): recovering a
// wallet from its mnemonic re-derives exactly the same commitments, so the
// byte layout below must never change.
package note

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"privpool-backend/internal/models"
	"privpool-backend/internal/zkhash"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
)

const (
	NullifierLength = 31
	SecretLength    = 31
	PreimageLength  = NullifierLength + SecretLength

	derivationDomain = "privpool/note"
	backupPrefix     = "privpool"
)

var (
	// ErrInvalidNote malformed note hex or backup string
	ErrInvalidNote = errors.New("invalid note")
	// ErrInvalidMnemonic mnemonic failed the BIP-39 checksum
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

// Derive returns the note at index for the given network and pair. It never fails.
func Derive(rootKey []byte, index uint32, chainID int64, pair models.Pair) *models.Note {
	key := rootKey
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	// New512 only rejects keys longer than 64 bytes
	h, _ := blake2b.New512(key)

	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(chainID))
	binary.BigEndian.PutUint32(buf[8:], index)

	h.Write([]byte(derivationDomain))
	h.Write(buf[:])
	h.Write([]byte(pair.Currency))
	h.Write([]byte{0})
	h.Write([]byte(pair.Amount))
	digest := h.Sum(nil)

	var preimage [PreimageLength]byte
	copy(preimage[:], digest[:PreimageLength])
	return FromPreimage(preimage, index)
}

// FromPreimage computes the public hashes of a preimage.
func FromPreimage(preimage [PreimageLength]byte, index uint32) *models.Note {
	n := &models.Note{
		DepositIndex: index,
		Preimage:     preimage,
	}
	copy(n.Nullifier[:], preimage[:NullifierLength])
	copy(n.Secret[:], preimage[NullifierLength:])

	n.CommitmentHex = zkhash.PedersenHashHex(preimage[:])
	n.NullifierHex = zkhash.PedersenHashHex(n.Nullifier[:])
	return n
}

// Serialize returns 0x + hex(preimage).
func Serialize(n *models.Note) string {
	return "0x" + hex.EncodeToString(n.Preimage[:])
}

// Parse is the inverse of Serialize. The derivation index is not part of the
// serialized form and is left at zero.
func Parse(noteHex string) (*models.Note, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(noteHex), "0x"), "0X")
	if len(s) != PreimageLength*2 {
		return nil, fmt.Errorf("%w: expected %d hex chars, got %d", ErrInvalidNote, PreimageLength*2, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNote, err)
	}
	var preimage [PreimageLength]byte
	copy(preimage[:], raw)
	return FromPreimage(preimage, 0), nil
}

// RootKeyFromMnemonic turns a BIP-39 mnemonic into the 64-byte derivation root key.
func RootKeyFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(mnemonic), passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return seed, nil
}

// FormatBackup renders the portable note string
// privpool-<currency>-<amount>-<chainId>-0x<preimage>.
func FormatBackup(pair models.Pair, chainID int64, n *models.Note) string {
	return fmt.Sprintf("%s-%s-%s-%d-%s", backupPrefix, pair.Currency, pair.Amount, chainID, Serialize(n))
}

// ParseBackup parses a string produced by FormatBackup.
func ParseBackup(s string) (models.Pair, int64, *models.Note, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 5 || parts[0] != backupPrefix {
		return models.Pair{}, 0, nil, fmt.Errorf("%w: malformed backup string", ErrInvalidNote)
	}
	chainID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return models.Pair{}, 0, nil, fmt.Errorf("%w: bad chain id %q", ErrInvalidNote, parts[3])
	}
	n, err := Parse(parts[4])
	if err != nil {
		return models.Pair{}, 0, nil, err
	}
	return models.NewPair(parts[1], parts[2]), chainID, n, nil
}
