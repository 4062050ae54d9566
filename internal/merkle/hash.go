package merkle

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
)

// Canonical hashing. Every field is length-prefixed with a big-endian
// uint64 so no two distinct objects can share a byte stream, and tree
// entries are folded in name-sorted order so insertion order never changes
// the digest.

func writeUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

// kindMarker distinguishes leaf from tree references inside a tree digest.
func kindMarker(kind NodeKind) [8]byte {
	if kind == KindLeaf {
		return [8]byte{255, 0, 0, 0, 0, 0, 0, 0}
	}
	return [8]byte{}
}

func HashBlob(value []byte) Hash {
	h := sha256.New()
	writeUint64(h, uint64(len(value)))
	h.Write(value)
	return sum(h)
}

func HashTree(t Tree) Hash {
	h := sha256.New()
	writeUint64(h, uint64(len(t)))
	for _, name := range t.sortedNames() {
		node := t[name]
		marker := kindMarker(node.Kind)
		h.Write(marker[:])
		writeUint64(h, uint64(len(name)))
		h.Write([]byte(name))
		writeUint64(h, HashLen)
		h.Write(node.Hash[:])
	}
	return sum(h)
}

func HashCommit(c *Commit) Hash {
	h := sha256.New()
	writeUint64(h, HashLen)
	h.Write(c.Root[:])
	if c.Parent == nil {
		writeUint64(h, 0)
	} else {
		writeUint64(h, 1) // parent count; the chain is linear
		writeUint64(h, HashLen)
		h.Write(c.Parent[:])
	}
	writeUint64(h, uint64(c.Time))
	writeUint64(h, uint64(len(c.Author)))
	h.Write([]byte(c.Author))
	writeUint64(h, uint64(len(c.Message)))
	h.Write([]byte(c.Message))
	return sum(h)
}

func HashEntry(e *Entry) Hash {
	switch e.Kind {
	case EntryBlob:
		return HashBlob(e.Blob)
	case EntryTree:
		return HashTree(e.Tree)
	default:
		return HashCommit(e.Commit)
	}
}

func sum(h hash.Hash) Hash {
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
