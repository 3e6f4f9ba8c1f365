package services

import (
	"sync"

	"privpool-backend/internal/vault"
)

// KeyRing holds the derivation root key while the wallet is unlocked.
type KeyRing struct {
	mu      sync.RWMutex
	rootKey []byte
}

func NewKeyRing() *KeyRing {
	return &KeyRing{}
}

func (k *KeyRing) Set(rootKey []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rootKey = append([]byte(nil), rootKey...)
}

// Clear wipes the key.
func (k *KeyRing) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := range k.rootKey {
		k.rootKey[i] = 0
	}
	k.rootKey = nil
}

// RootKey returns a copy of the key or vault.ErrVaultLocked.
func (k *KeyRing) RootKey() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.rootKey == nil {
		return nil, vault.ErrVaultLocked
	}
	return append([]byte(nil), k.rootKey...), nil
}
