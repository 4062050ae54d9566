package backend

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	apperrors "contextdb/internal/errors"
)

// Value framing markers. Stored values carry one leading byte so old data
// stays readable if the compression threshold changes.
const (
	markerRaw  byte = 0
	markerZstd byte = 1
)

// BadgerBackend implements the contract on top of an embedded BadgerDB.
// The data directory must not be shared with any other storage engine;
// two engines writing the same physical location corrupt each other, and
// that isolation is a deployment invariant this code cannot verify.
type BadgerBackend struct {
	db      *badger.DB
	minSize int
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

type BadgerOption func(*BadgerBackend)

// WithCompressionMinSize sets the smallest value size, in bytes, that gets
// zstd-compressed before being written. Zero disables compression.
func WithCompressionMinSize(n int) BadgerOption {
	return func(b *BadgerBackend) {
		b.minSize = n
	}
}

func OpenBadgerBackend(dir string, opts ...BadgerOption) (*BadgerBackend, error) {
	options := badger.DefaultOptions(dir)
	options.Logger = nil

	db, err := badger.Open(options)
	if err != nil {
		return nil, apperrors.Storage("opening badger store", err)
	}
	return NewBadgerBackend(db, opts...)
}

// NewBadgerBackend wraps an already-open database. The backend takes
// ownership; Close closes the wrapped database.
func NewBadgerBackend(db *badger.DB, opts ...BadgerOption) (*BadgerBackend, error) {
	b := &BadgerBackend{
		db:      db,
		minSize: 1024,
	}
	for _, opt := range opts {
		opt(b)
	}

	var err error
	b.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	b.decoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return b, nil
}

func (b *BadgerBackend) encode(value []byte) []byte {
	if b.minSize > 0 && len(value) >= b.minSize {
		out := b.encoder.EncodeAll(value, []byte{markerZstd})
		if len(out) < len(value)+1 {
			return out
		}
	}
	return append([]byte{markerRaw}, value...)
}

func (b *BadgerBackend) decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, apperrors.Consistency("empty stored value")
	}
	switch stored[0] {
	case markerRaw:
		return append([]byte(nil), stored[1:]...), nil
	case markerZstd:
		out, err := b.decoder.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, apperrors.Consistency("corrupt compressed value: %v", err)
		}
		return out, nil
	default:
		return nil, apperrors.Consistency("unknown value marker: %d", stored[0])
	}
}

func (b *BadgerBackend) Get(key []byte) ([]byte, error) {
	var stored []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		stored, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, errKeyNotFound(key)
	}
	if err != nil {
		return nil, apperrors.Storage("reading value", err)
	}
	return b.decode(stored)
}

func (b *BadgerBackend) Put(key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, b.encode(value))
	})
	if err != nil {
		return apperrors.Storage("writing value", err)
	}
	return nil
}

func (b *BadgerBackend) Delete(key []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return apperrors.Storage("deleting value", err)
	}
	return nil
}

func (b *BadgerBackend) Contains(key []byte) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Storage("checking key", err)
	}
	return true, nil
}

func (b *BadgerBackend) ApplyBatch(batch []KV) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, kv := range batch {
		if err := wb.Set(kv.Key, b.encode(kv.Value)); err != nil {
			return apperrors.Storage("batching write", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return apperrors.Storage("flushing batch", err)
	}
	return nil
}

func (b *BadgerBackend) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			stored, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			value, err := b.decode(stored)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Errors produced by fn or by decoding pass through untouched.
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.Storage("iterating prefix", err)
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	b.encoder.Close()
	b.decoder.Close()
	if err := b.db.Close(); err != nil {
		return apperrors.Storage("closing badger store", err)
	}
	return nil
}
