package action

import (
	"github.com/google/uuid"

	"contextdb/internal/backend"
	apperrors "contextdb/internal/errors"
)

// Recorder appends actions to the backing log. The engine records each
// action before applying the mutation, so after a crash the last log entry
// describes an operation that was at most applied, never one invented by
// reordering.
type Recorder struct {
	db   backend.Backend
	next uint64
}

func NewRecorder(db backend.Backend) (*Recorder, error) {
	r := &Recorder{db: db}

	// resume the sequence after the last recorded action
	err := db.IteratePrefix(nil, func(key, value []byte) error {
		a, err := decode(value)
		if err != nil {
			return err
		}
		if a.Seq+1 > r.next {
			r.next = a.Seq + 1
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Record assigns the action its sequence position and ID and appends it.
func (r *Recorder) Record(a *Action) error {
	if err := a.validate(); err != nil {
		return err
	}
	a.Seq = r.next
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	data, err := encode(a)
	if err != nil {
		return apperrors.Storage("encoding action", err)
	}
	if err := r.db.Put(seqKey(a.Seq), data); err != nil {
		return err
	}
	r.next++
	return nil
}

// Len reports the number of recorded actions.
func (r *Recorder) Len() uint64 {
	return r.next
}

// Iterate visits all actions from position zero in log order.
func (r *Recorder) Iterate(fn func(a *Action) error) error {
	return r.db.IteratePrefix(nil, func(key, value []byte) error {
		a, err := decode(value)
		if err != nil {
			return err
		}
		return fn(a)
	})
}
