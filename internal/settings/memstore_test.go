package settings

import "sync"

// MemoryStore is an in-process SecretStore whose availability can be
// toggled.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]map[string]string
	unavailable bool
}

// NewMemoryStore returns an empty, available MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]string)}
}

// SetAvailable toggles the reported availability.
func (m *MemoryStore) SetAvailable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = !ok
}

func (m *MemoryStore) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unavailable
}

func (m *MemoryStore) Get(service, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[service][key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(service, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[service] == nil {
		m.entries[service] = make(map[string]string)
	}
	m.entries[service][key] = value
	return nil
}

func (m *MemoryStore) Delete(service, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[service], key)
	return nil
}

// Keys returns the entries stored under service.
func (m *MemoryStore) Keys(service string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries[service]))
	for k := range m.entries[service] {
		keys = append(keys, k)
	}
	return keys
}
