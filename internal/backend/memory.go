package backend

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryBackend is an ordered in-memory implementation of the contract.
// It is the correctness reference the persistent backend must match, and
// the default store for recovery-by-replay scenarios and tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

func (m *MemoryBackend) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[string(key)]
	if !ok {
		return nil, errKeyNotFound(key)
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryBackend) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBackend) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, string(key))
	return nil
}

func (m *MemoryBackend) Contains(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemoryBackend) ApplyBatch(batch []KV) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, kv := range batch {
		m.data[string(kv.Key)] = append([]byte(nil), kv.Value...)
	}
	return nil
}

func (m *MemoryBackend) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)

	for _, k := range keys {
		m.mu.RLock()
		value, ok := m.data[k]
		if ok {
			value = append([]byte(nil), value...)
		}
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn([]byte(k), value); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

// Len reports the number of stored keys. Test helper.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
