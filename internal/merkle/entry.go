// Package merkle implements the content-addressed tree storage: blobs,
// trees and commits identified by their hash, with git-like semantics.
//
// A store with one key a/b/c and value 8 holds:
//
//	[commit] ---> [tree1] --a--> [tree2] --b--> [tree3] --c--> [blob_8]
//
// Every object is written to the backend under its own hash, so two roots
// with identical logical content resolve to the same stored bytes.
// Mutation is copy-on-write: a change at a path produces a new node for
// each ancestor up to a new root, with untouched siblings shared by hash.
package merkle

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	apperrors "contextdb/internal/errors"
)

const HashLen = 32

// Hash is the fixed-length content digest identifying a blob, tree or
// commit. Two structurally identical objects always share a Hash.
type Hash [HashLen]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, apperrors.Validation("invalid hash %q: %v", s, err)
	}
	if len(raw) != HashLen {
		return h, apperrors.Validation("invalid hash length: %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

type NodeKind string

const (
	KindLeaf NodeKind = "leaf"
	KindTree NodeKind = "tree"
)

// Node is one tree entry: a tagged reference to a blob (leaf) or a
// subtree, by hash.
type Node struct {
	Kind NodeKind `json:"kind"`
	Hash Hash     `json:"hash"`
}

// Tree maps a name to its child node. Serialization and hashing always
// order entries lexicographically by name, so the in-memory map form never
// affects identity.
type Tree map[string]Node

func (t Tree) sortedNames() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t Tree) clone() Tree {
	out := make(Tree, len(t))
	for name, node := range t {
		out[name] = node
	}
	return out
}

// Commit is an immutable snapshot record. The chain is linear: a single
// optional parent, with the genesis commit having none.
type Commit struct {
	Parent  *Hash  `json:"parent,omitempty"`
	Root    Hash   `json:"root"`
	Time    int64  `json:"time"`
	Author  string `json:"author"`
	Message string `json:"message"`
}

type EntryKind string

const (
	EntryBlob   EntryKind = "blob"
	EntryTree   EntryKind = "tree"
	EntryCommit EntryKind = "commit"
)

// Entry is the stored object union: Blob, Tree or Commit.
type Entry struct {
	Kind   EntryKind
	Blob   []byte
	Tree   Tree
	Commit *Commit
}

func BlobEntry(value []byte) *Entry {
	return &Entry{Kind: EntryBlob, Blob: value}
}

func TreeEntry(t Tree) *Entry {
	return &Entry{Kind: EntryTree, Tree: t}
}

func CommitEntry(c *Commit) *Entry {
	return &Entry{Kind: EntryCommit, Commit: c}
}

type encodedNode struct {
	Name string   `json:"name"`
	Kind NodeKind `json:"kind"`
	Hash Hash     `json:"hash"`
}

type encodedEntry struct {
	Kind    EntryKind     `json:"kind"`
	Blob    []byte        `json:"blob,omitempty"`
	Entries []encodedNode `json:"entries,omitempty"`
	Commit  *Commit       `json:"commit,omitempty"`
}

// EncodeEntry produces the canonical byte form written to the backend.
// Tree entries are emitted name-sorted, so encoding is deterministic.
func EncodeEntry(e *Entry) ([]byte, error) {
	enc := encodedEntry{Kind: e.Kind}
	switch e.Kind {
	case EntryBlob:
		enc.Blob = e.Blob
	case EntryTree:
		enc.Entries = make([]encodedNode, 0, len(e.Tree))
		for _, name := range e.Tree.sortedNames() {
			node := e.Tree[name]
			enc.Entries = append(enc.Entries, encodedNode{Name: name, Kind: node.Kind, Hash: node.Hash})
		}
	case EntryCommit:
		enc.Commit = e.Commit
	default:
		return nil, apperrors.Validation("unknown entry kind: %q", e.Kind)
	}
	return json.Marshal(enc)
}

func DecodeEntry(data []byte) (*Entry, error) {
	var enc encodedEntry
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, apperrors.Consistency("corrupt entry encoding: %v", err)
	}
	switch enc.Kind {
	case EntryBlob:
		return BlobEntry(enc.Blob), nil
	case EntryTree:
		tree := make(Tree, len(enc.Entries))
		for _, node := range enc.Entries {
			tree[node.Name] = Node{Kind: node.Kind, Hash: node.Hash}
		}
		return TreeEntry(tree), nil
	case EntryCommit:
		if enc.Commit == nil {
			return nil, apperrors.Consistency("commit entry without commit record")
		}
		return CommitEntry(enc.Commit), nil
	default:
		return nil, apperrors.Consistency("corrupt entry encoding: unknown kind %q", enc.Kind)
	}
}
