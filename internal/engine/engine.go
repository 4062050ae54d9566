// Package engine assembles the storage engine: one shared backend split
// into namespaces for tree entries, the commit index and the action log,
// driven through a single mutation surface. Every mutating call is
// recorded to the action log before it is applied, and startup recovery
// replays that log to rebuild state without trusting any snapshot.
package engine

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"contextdb/internal/action"
	"contextdb/internal/backend"
	"contextdb/internal/commitlog"
	"contextdb/internal/config"
	apperrors "contextdb/internal/errors"
	"contextdb/internal/merkle"
)

type Engine struct {
	mu sync.Mutex

	db       backend.Backend
	store    *merkle.Store
	log      *commitlog.Log
	recorder *action.Recorder
	replayer *action.Replayer

	logger *zap.Logger
	author string
	now    func() time.Time
	closed bool
}

type Option func(*Engine)

// WithClock overrides the commit timestamp source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Open constructs the engine from configuration: open -> operate -> Close.
// If the action log is non-empty the full log is replayed before Open
// returns, so the working tree and head match the last recorded state.
func Open(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Validation("invalid configuration: %v", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := backend.Open(cfg.Storage.Backend, cfg.Storage.DataDir,
		backend.WithCompressionMinSize(cfg.Compression.MinSize))
	if err != nil {
		return nil, err
	}
	return open(db, cfg, logger, opts...)
}

// OpenWithBackend builds the engine on an already-open backend. The engine
// takes ownership and closes it.
func OpenWithBackend(db backend.Backend, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return open(db, cfg, logger, opts...)
}

func open(db backend.Backend, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	store, err := merkle.NewStore(backend.Namespaced(db, "entry"), cfg.Cache.Entries, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	recorder, err := action.NewRecorder(backend.Namespaced(db, "action"))
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &Engine{
		db:       db,
		store:    store,
		log:      commitlog.NewLog(backend.Namespaced(db, "commit")),
		recorder: recorder,
		replayer: action.NewReplayer(logger),
		logger:   logger,
		author:   cfg.Storage.Author,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if recorder.Len() > 0 {
		e.logger.Info("recovering from action log", zap.Uint64("actions", recorder.Len()))
		if err := e.recover(cfg); err != nil {
			db.Close()
			return nil, err
		}
	}

	e.logger.Info("engine open",
		zap.String("backend", cfg.Storage.Backend),
		zap.Uint64("actions", recorder.Len()))
	return e, nil
}

// recover rebuilds in-memory state by folding the action log over a fresh
// merkle store. Entry writes are content-addressed, so re-persisting
// identical objects is idempotent.
func (e *Engine) recover(cfg *config.Config) error {
	store, err := merkle.NewStore(backend.Namespaced(e.db, "entry"), cfg.Cache.Entries, e.logger)
	if err != nil {
		return err
	}
	e.store = store
	return e.replayer.Replay(e.recorder, &applier{e})
}

// applier exposes the non-recording apply path to the replayer only.
type applier struct {
	e *Engine
}

func (a *applier) ApplySet(key []string, value []byte) error {
	return a.e.store.Set(key, value)
}

func (a *applier) ApplyDelete(key []string) error {
	return a.e.store.Delete(key)
}

func (a *applier) ApplyCopy(from, to []string) error {
	return a.e.store.Copy(from, to)
}

func (a *applier) ApplyCommit(time int64, author, message string) (merkle.Hash, error) {
	return a.e.applyCommit(time, author, message)
}

func (a *applier) ApplyCheckout(id merkle.Hash) error {
	return a.e.applyCheckout(id)
}

func (e *Engine) applyCommit(time int64, author, message string) (merkle.Hash, error) {
	id, commit, err := e.store.Commit(time, author, message)
	if err != nil {
		return merkle.Hash{}, err
	}
	if err := e.log.Append(id, commit); err != nil {
		return merkle.Hash{}, err
	}
	return id, nil
}

func (e *Engine) applyCheckout(id merkle.Hash) error {
	if err := e.store.Checkout(id); err != nil {
		return err
	}
	return e.log.SetHead(id)
}

// Get returns the value under key in the working tree.
func (e *Engine) Get(key []string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(key)
}

// GetAt returns the value under key as of a historical commit.
func (e *Engine) GetAt(id merkle.Hash, key []string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.GetHistory(id, key)
}

// List collects key/value pairs under prefix in the working tree.
func (e *Engine) List(prefix []string) ([]merkle.KeyValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ListValues(prefix)
}

// ListAt is List against a historical commit.
func (e *Engine) ListAt(id merkle.Hash, prefix []string) ([]merkle.KeyValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ListValuesAt(id, prefix)
}

// Set stages value under key. The action is recorded before the mutation
// is applied.
func (e *Engine) Set(key []string, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.recorder.Record(&action.Action{Kind: action.KindSet, Key: key, Value: value}); err != nil {
		return err
	}
	return e.store.Set(key, value)
}

// Delete stages removal of the entry under key.
func (e *Engine) Delete(key []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.recorder.Record(&action.Action{Kind: action.KindDelete, Key: key}); err != nil {
		return err
	}
	return e.store.Delete(key)
}

// Copy rebinds the entry at from under to in the working tree. The source
// must exist: the check runs before the action is recorded so the log
// never holds an operation that deterministically fails on replay.
func (e *Engine) Copy(from, to []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok, err := e.store.Contains(from)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("no entry under key %q", strings.Join(from, "/"))
	}

	if err := e.recorder.Record(&action.Action{Kind: action.KindCopy, Key: from, ToKey: to}); err != nil {
		return err
	}
	return e.store.Copy(from, to)
}

// Commit snapshots the working tree. An empty author falls back to the
// configured default. The timestamp is fixed when the action is recorded,
// so replay reproduces the same commit hash.
func (e *Engine) Commit(author, message string) (merkle.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if author == "" {
		author = e.author
	}
	now := e.now().Unix()

	rec := &action.Action{Kind: action.KindCommit, Time: now, Author: author, Message: message}
	if err := e.recorder.Record(rec); err != nil {
		return merkle.Hash{}, err
	}
	return e.applyCommit(now, author, message)
}

// Checkout discards staged edits and rebinds the working tree to a commit.
// The target must exist before the action is recorded.
func (e *Engine) Checkout(id merkle.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.log.Get(id); err != nil {
		return err
	}

	rec := &action.Action{Kind: action.KindCheckout, Commit: id.String()}
	if err := e.recorder.Record(rec); err != nil {
		return err
	}
	return e.applyCheckout(id)
}

// Head returns the current head commit hash.
func (e *Engine) Head() (merkle.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Head()
}

// History walks commits from head back to genesis, newest first.
func (e *Engine) History(fn func(id merkle.Hash, commit *merkle.Commit) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Walk(fn)
}

// ActionCount reports the length of the recorded action log.
func (e *Engine) ActionCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recorder.Len()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.logger.Info("engine closed")
	return e.db.Close()
}
