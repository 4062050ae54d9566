package action

import (
	"go.uber.org/zap"

	apperrors "contextdb/internal/errors"
	"contextdb/internal/merkle"
)

// Applier is the mutation surface the replayer drives. The engine
// implements it with its non-recording apply path, so replaying never
// re-appends to the log.
type Applier interface {
	ApplySet(key []string, value []byte) error
	ApplyDelete(key []string) error
	ApplyCopy(from, to []string) error
	ApplyCommit(time int64, author, message string) (merkle.Hash, error)
	ApplyCheckout(id merkle.Hash) error
}

// Replayer folds an action log over an Applier, in log order, starting
// from freshly-initialized stores. Any error aborts the whole recovery: a
// partially replayed log could silently diverge from true history.
type Replayer struct {
	logger *zap.Logger
}

func NewReplayer(logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{logger: logger}
}

func (r *Replayer) Replay(rec *Recorder, target Applier) error {
	var expected uint64
	var replayed uint64

	err := rec.Iterate(func(a *Action) error {
		if a.Seq != expected {
			return apperrors.Consistency("action sequence gap: want %d, got %d", expected, a.Seq)
		}
		expected++

		if err := r.apply(a, target); err != nil {
			return err
		}
		replayed++
		return nil
	})
	if err != nil {
		return apperrors.Replay("recovery aborted", err)
	}

	r.logger.Info("replay complete", zap.Uint64("actions", replayed))
	return nil
}

func (r *Replayer) apply(a *Action, target Applier) error {
	if err := a.validate(); err != nil {
		return err
	}
	switch a.Kind {
	case KindSet:
		return target.ApplySet(a.Key, a.Value)
	case KindDelete:
		return target.ApplyDelete(a.Key)
	case KindCopy:
		return target.ApplyCopy(a.Key, a.ToKey)
	case KindCommit:
		_, err := target.ApplyCommit(a.Time, a.Author, a.Message)
		return err
	case KindCheckout:
		id, err := merkle.ParseHash(a.Commit)
		if err != nil {
			return err
		}
		return target.ApplyCheckout(id)
	default:
		return apperrors.Validation("unknown action kind: %q", a.Kind)
	}
}
