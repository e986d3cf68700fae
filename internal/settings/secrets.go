package settings

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrSecretNotFound is returned by SecretStore.Get for a missing entry.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore holds sensitive setting values.
type SecretStore interface {
	// Available reports whether the backend can be used at all.
	Available() bool
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

const (
	probeService = "qwen-ext-keychain-probe"
	probeKey     = "probe"
)

// KeyringStore is the OS keychain backend.
type KeyringStore struct {
	once      sync.Once
	available bool
}

// NewKeyringStore returns a keychain-backed SecretStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

// Available probes the keychain once. A lookup that fails with anything
// other than "not found" means no usable keychain.
func (k *KeyringStore) Available() bool {
	k.once.Do(func() {
		_, err := keyring.Get(probeService, probeKey)
		k.available = err == nil || errors.Is(err, keyring.ErrNotFound)
	})
	return k.available
}

func (k *KeyringStore) Get(service, key string) (string, error) {
	v, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keychain get %s: %w", key, err)
	}
	return v, nil
}

func (k *KeyringStore) Set(service, key, value string) error {
	if err := keyring.Set(service, key, value); err != nil {
		return fmt.Errorf("keychain set %s: %w", key, err)
	}
	return nil
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (k *KeyringStore) Delete(service, key string) error {
	err := keyring.Delete(service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	return nil
}
