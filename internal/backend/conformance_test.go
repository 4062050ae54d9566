package backend

import (
	"fmt"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "contextdb/internal/errors"
)

func setupBadger(t *testing.T) *BadgerBackend {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)

	b, err := NewBadgerBackend(db)
	require.NoError(t, err)

	t.Cleanup(func() { b.Close() })
	return b
}

// The contract suite runs against both implementations; the memory backend
// is the reference behavior the badger backend must match.
func TestBackendConformance(t *testing.T) {
	backends := map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemoryBackend() },
		"badger": func(t *testing.T) Backend { return setupBadger(t) },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("ReadYourWrites", func(t *testing.T) {
				b := open(t)

				require.NoError(t, b.Put([]byte("k1"), []byte("v1")))
				got, err := b.Get([]byte("k1"))
				require.NoError(t, err)
				assert.Equal(t, []byte("v1"), got)

				// overwrite is visible
				require.NoError(t, b.Put([]byte("k1"), []byte("v2")))
				got, err = b.Get([]byte("k1"))
				require.NoError(t, err)
				assert.Equal(t, []byte("v2"), got)
			})

			t.Run("MissingKey", func(t *testing.T) {
				b := open(t)

				_, err := b.Get([]byte("nope"))
				require.Error(t, err)
				assert.True(t, apperrors.IsNotFound(err))

				ok, err := b.Contains([]byte("nope"))
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("Delete", func(t *testing.T) {
				b := open(t)

				require.NoError(t, b.Put([]byte("k"), []byte("v")))
				require.NoError(t, b.Delete([]byte("k")))

				_, err := b.Get([]byte("k"))
				assert.True(t, apperrors.IsNotFound(err))
			})

			t.Run("ApplyBatch", func(t *testing.T) {
				b := open(t)

				batch := []KV{
					{Key: []byte("a"), Value: []byte("1")},
					{Key: []byte("b"), Value: []byte("2")},
					{Key: []byte("c"), Value: []byte("3")},
				}
				require.NoError(t, b.ApplyBatch(batch))

				for _, kv := range batch {
					got, err := b.Get(kv.Key)
					require.NoError(t, err)
					assert.Equal(t, kv.Value, got)
				}
			})

			t.Run("IterationOrder", func(t *testing.T) {
				b := open(t)

				// inserted out of order, iterated lexicographically
				require.NoError(t, b.Put([]byte("p:c"), []byte("3")))
				require.NoError(t, b.Put([]byte("p:a"), []byte("1")))
				require.NoError(t, b.Put([]byte("q:z"), []byte("x")))
				require.NoError(t, b.Put([]byte("p:b"), []byte("2")))

				var keys []string
				err := b.IteratePrefix([]byte("p:"), func(key, value []byte) error {
					keys = append(keys, string(key))
					return nil
				})
				require.NoError(t, err)
				assert.Equal(t, []string{"p:a", "p:b", "p:c"}, keys)
			})

			t.Run("IterationStopsOnError", func(t *testing.T) {
				b := open(t)

				require.NoError(t, b.Put([]byte("x:1"), []byte("a")))
				require.NoError(t, b.Put([]byte("x:2"), []byte("b")))

				count := 0
				err := b.IteratePrefix([]byte("x:"), func(key, value []byte) error {
					count++
					return fmt.Errorf("stop")
				})
				require.Error(t, err)
				assert.Equal(t, 1, count)
			})

			t.Run("EmptyValue", func(t *testing.T) {
				b := open(t)

				require.NoError(t, b.Put([]byte("empty"), []byte{}))
				got, err := b.Get([]byte("empty"))
				require.NoError(t, err)
				assert.Empty(t, got)
			})
		})
	}
}

func TestNamespacedBackend(t *testing.T) {
	b := NewMemoryBackend()
	entries := Namespaced(b, "entry")
	commits := Namespaced(b, "commit")

	require.NoError(t, entries.Put([]byte("k"), []byte("entry-value")))
	require.NoError(t, commits.Put([]byte("k"), []byte("commit-value")))

	got, err := entries.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("entry-value"), got)

	got, err = commits.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("commit-value"), got)

	// iteration strips the namespace prefix
	var keys []string
	err = entries.IteratePrefix(nil, func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
}

func TestBadgerCompression(t *testing.T) {
	b := setupBadger(t)

	// large compressible value survives the round trip
	large := make([]byte, 64*1024)
	for i := range large {
		large[i] = byte(i % 7)
	}
	require.NoError(t, b.Put([]byte("big"), large))

	got, err := b.Get([]byte("big"))
	require.NoError(t, err)
	assert.Equal(t, large, got)

	// small values bypass compression
	require.NoError(t, b.Put([]byte("small"), []byte("tiny")))
	got, err = b.Get([]byte("small"))
	require.NoError(t, err)
	assert.Equal(t, []byte("tiny"), got)
}
