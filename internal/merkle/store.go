package merkle

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"contextdb/internal/backend"
	apperrors "contextdb/internal/errors"
)

// Store is the merkle tree storage engine: a staging area layered over a
// key-value backend holding committed entries. All mutation is
// copy-on-write against the staging area; Commit persists the reachable
// staged entries in one batch.
//
// A Store is single-writer. Committed entries are immutable once written,
// so reads against committed roots are safe concurrently with unrelated
// writes; callers serialize mutating calls externally.
type Store struct {
	db         backend.Backend
	staging    *stagingArea
	lastCommit *Hash
	cache      *lru.Cache[Hash, *Entry]
	logger     *zap.Logger
}

// KeyValue is one collected pair from a prefix listing.
type KeyValue struct {
	Key   []string
	Value []byte
}

func NewStore(db backend.Backend, cacheSize int, logger *zap.Logger) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 2048
	}
	cache, err := lru.New[Hash, *Entry](cacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		staging: newStagingArea(),
		cache:   cache,
		logger:  logger,
	}, nil
}

// Get returns the value under key in the current working tree.
func (s *Store) Get(key []string) ([]byte, error) {
	if len(key) == 0 {
		return nil, apperrors.Validation("cannot search for an empty key")
	}
	return s.getFromTree(s.stagedRoot(), key)
}

// GetHistory returns the value under key as of the given commit.
func (s *Store) GetHistory(commitHash Hash, key []string) ([]byte, error) {
	if len(key) == 0 {
		return nil, apperrors.Validation("cannot search for an empty key")
	}
	commit, err := s.getCommit(commitHash)
	if err != nil {
		return nil, err
	}
	root, err := s.getTree(commit.Root)
	if err != nil {
		return nil, err
	}
	return s.getFromTree(root, key)
}

func (s *Store) getFromTree(root Tree, key []string) ([]byte, error) {
	name := key[len(key)-1]
	tree, err := s.findTree(root, key[:len(key)-1])
	if err != nil {
		return nil, err
	}

	node, ok := tree[name]
	if !ok {
		return nil, apperrors.NotFound("no value under key %q", keyToString(key))
	}
	entry, err := s.getEntry(node.Hash)
	if err != nil {
		return nil, err
	}
	if entry.Kind != EntryBlob {
		return nil, apperrors.Consistency("key %q holds a %s, not a value", keyToString(key), entry.Kind)
	}
	return entry.Blob, nil
}

// Contains reports whether any entry (blob or tree) exists under key in
// the working tree.
func (s *Store) Contains(key []string) (bool, error) {
	if len(key) == 0 {
		return false, nil
	}
	tree, err := s.findTree(s.stagedRoot(), key[:len(key)-1])
	if err != nil {
		return false, err
	}
	_, ok := tree[key[len(key)-1]]
	return ok, nil
}

// Set stages value under key, rebuilding ancestors up to a new working root.
func (s *Store) Set(key []string, value []byte) error {
	if len(key) == 0 {
		return apperrors.Validation("cannot set an empty key")
	}
	root := s.stagedRoot()

	blobHash := HashBlob(value)
	s.staging.put(blobHash, BlobEntry(append([]byte(nil), value...)))

	newRoot, err := s.computeRootWithChange(root, key, &Node{Kind: KindLeaf, Hash: blobHash})
	if err != nil {
		return err
	}
	return s.setWorkingTree(newRoot)
}

// Delete removes the entry under key. Removing the last entry of an
// intermediate tree removes that tree from its parent transitively, so no
// empty tree stays reachable from the new root. Deleting an absent key is
// a no-op.
func (s *Store) Delete(key []string) error {
	if len(key) == 0 {
		return nil
	}
	root := s.stagedRoot()

	newRoot, err := s.computeRootWithChange(root, key, nil)
	if err != nil {
		return err
	}
	return s.setWorkingTree(newRoot)
}

// Copy rebinds the entry at from under to. Only the spine of to is
// rebuilt; the copied subtree is shared by hash, never rehashed.
func (s *Store) Copy(from, to []string) error {
	if len(from) == 0 || len(to) == 0 {
		return apperrors.Validation("copy requires non-empty source and destination keys")
	}
	root := s.stagedRoot()

	sourceName := from[len(from)-1]
	sourceTree, err := s.findTree(root, from[:len(from)-1])
	if err != nil {
		return err
	}
	node, ok := sourceTree[sourceName]
	if !ok {
		return apperrors.NotFound("no entry under key %q", keyToString(from))
	}

	newRoot, err := s.computeRootWithChange(root, to, &node)
	if err != nil {
		return err
	}
	return s.setWorkingTree(newRoot)
}

// Commit hashes the working tree, persists every reachable staged entry to
// the backend in one batch, records the new commit and clears the staging
// area. Returns the new commit hash and its record.
func (s *Store) Commit(time int64, author, message string) (Hash, *Commit, error) {
	root := s.stagedRoot()
	rootHash := HashTree(root)
	s.staging.put(rootHash, TreeEntry(root))

	commit := &Commit{
		Parent:  s.lastCommit,
		Root:    rootHash,
		Time:    time,
		Author:  author,
		Message: message,
	}
	commitHash := HashCommit(commit)
	entry := CommitEntry(commit)
	s.staging.put(commitHash, entry)

	if err := s.persistStagedEntry(entry); err != nil {
		return Hash{}, nil, err
	}

	s.staging.clear()
	s.lastCommit = &commitHash
	s.logger.Debug("committed",
		zap.String("commit", commitHash.String()),
		zap.String("root", rootHash.String()))
	return commitHash, commit, nil
}

// Checkout discards the staging area and rebinds the working tree to the
// given commit's root.
func (s *Store) Checkout(commitHash Hash) error {
	commit, err := s.getCommit(commitHash)
	if err != nil {
		return err
	}
	root, err := s.getTree(commit.Root)
	if err != nil {
		return err
	}
	s.staging = newStagingArea()
	s.staging.root = root
	s.lastCommit = &commitHash
	return nil
}

// LastCommitHash returns the hash of the last committed or checked-out
// commit, or nil before the first commit.
func (s *Store) LastCommitHash() *Hash {
	if s.lastCommit == nil {
		return nil
	}
	h := *s.lastCommit
	return &h
}

// WorkingRootHash returns the hash of the current working tree.
func (s *Store) WorkingRootHash() Hash {
	return HashTree(s.stagedRoot())
}

// StagedCount reports the number of uncommitted staged entries.
func (s *Store) StagedCount() int {
	return s.staging.size()
}

// ListValues collects every key/value pair under prefix in the working
// tree, in name-sorted order. An empty prefix lists the whole tree.
func (s *Store) ListValues(prefix []string) ([]KeyValue, error) {
	return s.listFromTree(s.stagedRoot(), prefix)
}

// ListValuesAt is ListValues against a historical commit.
func (s *Store) ListValuesAt(commitHash Hash, prefix []string) ([]KeyValue, error) {
	commit, err := s.getCommit(commitHash)
	if err != nil {
		return nil, err
	}
	root, err := s.getTree(commit.Root)
	if err != nil {
		return nil, err
	}
	return s.listFromTree(root, prefix)
}

func (s *Store) listFromTree(root Tree, prefix []string) ([]KeyValue, error) {
	tree, err := s.findTree(root, prefix)
	if err != nil {
		return nil, err
	}

	var out []KeyValue
	for _, name := range tree.sortedNames() {
		node := tree[name]
		key := append(append([]string(nil), prefix...), name)
		if err := s.collectValues(key, node, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) collectValues(key []string, node Node, out *[]KeyValue) error {
	entry, err := s.getEntry(node.Hash)
	if err != nil {
		return err
	}
	switch entry.Kind {
	case EntryBlob:
		*out = append(*out, KeyValue{Key: key, Value: entry.Blob})
		return nil
	case EntryTree:
		for _, name := range entry.Tree.sortedNames() {
			child := append(append([]string(nil), key...), name)
			if err := s.collectValues(child, entry.Tree[name], out); err != nil {
				return err
			}
		}
		return nil
	default:
		return apperrors.Consistency("commit entry reached under key %q", keyToString(key))
	}
}

// stagedRoot returns the current working tree, initializing an empty one
// on first use.
func (s *Store) stagedRoot() Tree {
	if s.staging.root == nil {
		tree := Tree{}
		s.staging.put(HashTree(tree), TreeEntry(tree))
		s.staging.root = tree
	}
	return s.staging.root
}

func (s *Store) setWorkingTree(rootHash Hash) error {
	tree, err := s.getTree(rootHash)
	if err != nil {
		return err
	}
	s.staging.root = tree
	return nil
}

// computeRootWithChange walks down to key, applies the change (node == nil
// deletes, otherwise inserts) and rebuilds each ancestor on the way back
// up. Returns the hash of the new root. Trees emptied by a deletion are
// removed from their parent.
func (s *Store) computeRootWithChange(root Tree, key []string, node *Node) (Hash, error) {
	if len(key) == 0 {
		if node != nil {
			return node.Hash, nil
		}
		h := HashTree(root)
		s.staging.put(h, TreeEntry(root))
		return h, nil
	}

	name := key[len(key)-1]
	path := key[:len(key)-1]
	tree, err := s.findTree(root, path)
	if err != nil {
		return Hash{}, err
	}

	if node == nil {
		delete(tree, name)
	} else {
		tree[name] = *node
	}

	if len(tree) == 0 {
		if len(path) == 0 {
			// the root itself emptied out
			h := HashTree(tree)
			s.staging.put(h, TreeEntry(tree))
			return h, nil
		}
		return s.computeRootWithChange(root, path, nil)
	}

	newHash := HashTree(tree)
	// the old version of the tree stays in the staging area
	s.staging.put(newHash, TreeEntry(tree))
	return s.computeRootWithChange(root, path, &Node{Kind: KindTree, Hash: newHash})
}

// findTree descends key from root and returns a fresh copy of the tree
// there. Missing paths and blobs along the way yield an empty tree.
func (s *Store) findTree(root Tree, key []string) (Tree, error) {
	if len(key) == 0 {
		return root.clone(), nil
	}

	node, ok := root[key[0]]
	if !ok {
		return Tree{}, nil
	}

	entry, err := s.getEntry(node.Hash)
	if err != nil {
		return nil, err
	}
	switch entry.Kind {
	case EntryTree:
		return s.findTree(entry.Tree, key[1:])
	case EntryBlob:
		return Tree{}, nil
	default:
		return nil, apperrors.Consistency("looking for a tree, found a commit")
	}
}

// persistStagedEntry writes entry and its staged descendants to the
// backend in one batch. Children already persisted by earlier commits are
// skipped; they are referenced by hash and unchanged.
func (s *Store) persistStagedEntry(entry *Entry) error {
	var batch []backend.KV
	seen := make(map[Hash]bool)
	if err := s.collectEntries(entry, &batch, seen); err != nil {
		return err
	}
	return s.db.ApplyBatch(batch)
}

func (s *Store) collectEntries(entry *Entry, batch *[]backend.KV, seen map[Hash]bool) error {
	h := HashEntry(entry)
	if seen[h] {
		return nil
	}
	seen[h] = true

	encoded, err := EncodeEntry(entry)
	if err != nil {
		return err
	}
	*batch = append(*batch, backend.KV{Key: []byte(h.String()), Value: encoded})

	switch entry.Kind {
	case EntryBlob:
		return nil
	case EntryTree:
		for _, name := range entry.Tree.sortedNames() {
			child := entry.Tree[name]
			staged, ok := s.staging.get(child.Hash)
			if !ok {
				continue
			}
			if err := s.collectEntries(staged, batch, seen); err != nil {
				return err
			}
		}
		return nil
	default:
		rootEntry, err := s.getEntry(entry.Commit.Root)
		if err != nil {
			return err
		}
		return s.collectEntries(rootEntry, batch, seen)
	}
}

// getEntry resolves a hash from the staging area first, then the backend.
// Backend hits are verified against their hash and cached.
func (s *Store) getEntry(h Hash) (*Entry, error) {
	if entry, ok := s.staging.get(h); ok {
		return entry, nil
	}
	if entry, ok := s.cache.Get(h); ok {
		return entry, nil
	}

	data, err := s.db.Get([]byte(h.String()))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NotFound("entry not found: %s", h)
		}
		return nil, err
	}
	entry, err := DecodeEntry(data)
	if err != nil {
		return nil, err
	}
	if HashEntry(entry) != h {
		return nil, apperrors.Consistency("hash mismatch reading entry %s", h)
	}

	s.cache.Add(h, entry)
	return entry, nil
}

func (s *Store) getTree(h Hash) (Tree, error) {
	entry, err := s.getEntry(h)
	if err != nil {
		return nil, err
	}
	if entry.Kind != EntryTree {
		return nil, apperrors.Consistency("looking for a tree, found a %s", entry.Kind)
	}
	return entry.Tree, nil
}

func (s *Store) getCommit(h Hash) (*Commit, error) {
	entry, err := s.getEntry(h)
	if err != nil {
		return nil, err
	}
	if entry.Kind != EntryCommit {
		return nil, apperrors.Consistency("looking for a commit, found a %s", entry.Kind)
	}
	return entry.Commit, nil
}

func keyToString(key []string) string {
	return strings.Join(key, "/")
}
