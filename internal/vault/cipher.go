package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLength = 32
	keyLength  = 32

	// DefaultScryptN 2^18, the cost used when the config sets none
	DefaultScryptN = 1 << 18
)

// sessionKey scrypt output and the salt it was derived with. Held while the
// vault is unlocked so writes only pay for AES-GCM.
type sessionKey struct {
	key  []byte
	salt []byte
}

func (k *sessionKey) wipe() {
	if k == nil {
		return
	}
	for i := range k.key {
		k.key[i] = 0
	}
	k.key = nil
}

// sealer password-based AES-256-GCM; layout is nonce | ciphertext | salt
type sealer struct {
	scryptN     int
	derivations atomic.Int64
}

func newSealer(scryptN int) *sealer {
	if scryptN <= 1 {
		scryptN = DefaultScryptN
	}
	return &sealer{scryptN: scryptN}
}

// newKey derives a key under a fresh random salt.
func (s *sealer) newKey(password []byte) (*sessionKey, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("missing encryption password")
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return s.deriveKey(password, salt)
}

// seal encrypts under k with a fresh nonce.
func (s *sealer) seal(plaintext []byte, k *sessionKey) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("missing plaintext")
	}
	if k == nil || len(k.key) == 0 {
		return nil, fmt.Errorf("missing encryption key")
	}
	gcm, err := newGCM(k.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := gcm.Seal(nonce, nonce, plaintext, nil)
	return append(out, k.salt...), nil
}

// open decrypts sealed with password and returns the key for later writes.
func (s *sealer) open(sealed, password []byte) ([]byte, *sessionKey, error) {
	if len(password) == 0 {
		return nil, nil, ErrInvalidPassword
	}
	if len(sealed) < saltLength {
		return nil, nil, fmt.Errorf("vault blob too short")
	}

	salt := append([]byte(nil), sealed[len(sealed)-saltLength:]...)
	data := sealed[:len(sealed)-saltLength]

	k, err := s.deriveKey(password, salt)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := newGCM(k.key)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, nil, fmt.Errorf("vault blob too short")
	}
	nonce, text := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, text, nil)
	if err != nil {
		k.wipe()
		return nil, nil, ErrInvalidPassword
	}
	return plaintext, k, nil
}

func (s *sealer) deriveKey(password, salt []byte) (*sessionKey, error) {
	s.derivations.Add(1)
	key, err := scrypt.Key(password, salt, s.scryptN, 8, 1, keyLength)
	if err != nil {
		return nil, err
	}
	return &sessionKey{key: key, salt: salt}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
