// Package backend defines the byte-level key-value contract the storage
// engine is written against, plus its two implementations: an ordered
// in-memory map and a persistent store backed by BadgerDB.
//
// Contract requirements every implementation must satisfy:
//   - writes are visible to subsequent reads on the same instance
//   - IteratePrefix yields entries in lexicographic order on raw key bytes
//   - failures surface as errors, never as empty reads
package backend

import (
	"fmt"

	apperrors "contextdb/internal/errors"
)

// KV is one pair in a write batch.
type KV struct {
	Key   []byte
	Value []byte
}

type Backend interface {
	// Get returns the value stored under key, or a NOT_FOUND error.
	Get(key []byte) ([]byte, error)

	Put(key, value []byte) error

	Delete(key []byte) error

	Contains(key []byte) (bool, error)

	// ApplyBatch writes all pairs, atomically where the store supports it.
	ApplyBatch(batch []KV) error

	// IteratePrefix calls fn for every key with the given prefix, in
	// lexicographic order on raw key bytes. Returning an error from fn
	// stops the iteration and propagates that error.
	IteratePrefix(prefix []byte, fn func(key, value []byte) error) error

	Close() error
}

func errKeyNotFound(key []byte) error {
	return apperrors.NotFound("key not found: %q", string(key))
}

// Namespaced returns a view of b with every key prefixed by "<name>:", so
// several components can share one physical store without colliding.
func Namespaced(b Backend, name string) Backend {
	return &namespaced{inner: b, prefix: []byte(name + ":")}
}

type namespaced struct {
	inner  Backend
	prefix []byte
}

func (n *namespaced) key(key []byte) []byte {
	out := make([]byte, 0, len(n.prefix)+len(key))
	out = append(out, n.prefix...)
	return append(out, key...)
}

func (n *namespaced) Get(key []byte) ([]byte, error) {
	return n.inner.Get(n.key(key))
}

func (n *namespaced) Put(key, value []byte) error {
	return n.inner.Put(n.key(key), value)
}

func (n *namespaced) Delete(key []byte) error {
	return n.inner.Delete(n.key(key))
}

func (n *namespaced) Contains(key []byte) (bool, error) {
	return n.inner.Contains(n.key(key))
}

func (n *namespaced) ApplyBatch(batch []KV) error {
	prefixed := make([]KV, len(batch))
	for i, kv := range batch {
		prefixed[i] = KV{Key: n.key(kv.Key), Value: kv.Value}
	}
	return n.inner.ApplyBatch(prefixed)
}

func (n *namespaced) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	return n.inner.IteratePrefix(n.key(prefix), func(key, value []byte) error {
		return fn(key[len(n.prefix):], value)
	})
}

// Close on a namespaced view is a no-op; the owner closes the shared store.
func (n *namespaced) Close() error {
	return nil
}

// Open constructs a backend by name.
func Open(kind, dir string, opts ...BadgerOption) (Backend, error) {
	switch kind {
	case "memory":
		return NewMemoryBackend(), nil
	case "badger":
		return OpenBadgerBackend(dir, opts...)
	default:
		return nil, fmt.Errorf("unknown backend: %q", kind)
	}
}
