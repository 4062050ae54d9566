// Package commitlog maintains the append-only commit chain index: commit
// records keyed by commit hash plus a head pointer. The merkle store owns
// the commit entries themselves; this index gives the engine cheap head
// lookup, parent validation and history walks.
package commitlog

import (
	"encoding/json"

	"contextdb/internal/backend"
	apperrors "contextdb/internal/errors"
	"contextdb/internal/merkle"
)

// headKey cannot collide with commit keys, which are hex.
const headKey = "HEAD"

type Log struct {
	db backend.Backend
}

func NewLog(db backend.Backend) *Log {
	return &Log{db: db}
}

// Append records a commit under its hash and advances head. The parent,
// if any, must already be in the log; a missing parent is a consistency
// error and nothing is written.
func (l *Log) Append(id merkle.Hash, commit *merkle.Commit) error {
	if commit.Parent != nil {
		ok, err := l.db.Contains([]byte(commit.Parent.String()))
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Consistency("commit %s references missing parent %s", id, commit.Parent)
		}
	}

	data, err := json.Marshal(commit)
	if err != nil {
		return apperrors.Storage("encoding commit", err)
	}
	if err := l.db.Put([]byte(id.String()), data); err != nil {
		return err
	}
	return l.db.Put([]byte(headKey), []byte(id.String()))
}

func (l *Log) Get(id merkle.Hash) (*merkle.Commit, error) {
	data, err := l.db.Get([]byte(id.String()))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NotFound("commit not found: %s", id)
		}
		return nil, err
	}
	var commit merkle.Commit
	if err := json.Unmarshal(data, &commit); err != nil {
		return nil, apperrors.Consistency("corrupt commit record %s: %v", id, err)
	}
	return &commit, nil
}

// Head returns the latest commit hash, or a NOT_FOUND error before the
// first commit.
func (l *Log) Head() (merkle.Hash, error) {
	data, err := l.db.Get([]byte(headKey))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return merkle.Hash{}, apperrors.NotFound("no commits yet")
		}
		return merkle.Hash{}, err
	}
	return merkle.ParseHash(string(data))
}

// SetHead rebinds head to an existing commit (checkout).
func (l *Log) SetHead(id merkle.Hash) error {
	if _, err := l.Get(id); err != nil {
		return err
	}
	return l.db.Put([]byte(headKey), []byte(id.String()))
}

// Walk visits commits from head back through the parent chain, newest
// first. Returning an error from fn stops the walk.
func (l *Log) Walk(fn func(id merkle.Hash, commit *merkle.Commit) error) error {
	id, err := l.Head()
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	for {
		commit, err := l.Get(id)
		if err != nil {
			return err
		}
		if err := fn(id, commit); err != nil {
			return err
		}
		if commit.Parent == nil {
			return nil
		}
		id = *commit.Parent
	}
}
