package config

import (
	"encoding/json"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

var _ Store = &MemoryStore{}

// MemoryStore keeps encoded records in memory. It round-trips through JSON
// so it behaves like the persistent stores.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (m *MemoryStore) Load(name string, v any) error {
	m.mu.Lock()
	raw, ok := m.records[name]
	m.mu.Unlock()
	if !ok {
		return pkgerrors.Wrapf(ErrNotFound, "record %s", name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return pkgerrors.Wrapf(ErrParse, "record %s: %v", name, err)
	}
	return nil
}

func (m *MemoryStore) Save(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode record %s", name)
	}
	m.mu.Lock()
	m.records[name] = data
	m.mu.Unlock()
	return nil
}

// SetRaw stores raw bytes for a record, bypassing encoding.
func (m *MemoryStore) SetRaw(name string, data []byte) {
	m.mu.Lock()
	m.records[name] = append([]byte(nil), data...)
	m.mu.Unlock()
}

// Raw returns the encoded record, if any.
func (m *MemoryStore) Raw(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.records[name]
	return append([]byte(nil), raw...), ok
}
