// Package action records every mutating call against the engine as an
// ordered, durable action log, and can replay that log from position zero
// to rebuild the exact pre-crash state on empty stores. The log is the
// source of truth; the persisted tree and commit data are a derived cache.
package action

import (
	"encoding/json"
	"fmt"

	apperrors "contextdb/internal/errors"
)

type Kind string

const (
	KindSet      Kind = "set"
	KindDelete   Kind = "delete"
	KindCopy     Kind = "copy"
	KindCommit   Kind = "commit"
	KindCheckout Kind = "checkout"
)

// Action describes one mutating call. Replaying it against the same prior
// state always produces the same result, which is what makes log replay a
// sound recovery mechanism.
type Action struct {
	Seq  uint64 `json:"seq"`
	ID   string `json:"id"` // uuid, for correlation in logs
	Kind Kind   `json:"kind"`

	Key   []string `json:"key,omitempty"`
	ToKey []string `json:"to_key,omitempty"` // copy destination
	Value []byte   `json:"value,omitempty"`

	// commit fields
	Time    int64  `json:"time,omitempty"`
	Author  string `json:"author,omitempty"`
	Message string `json:"message,omitempty"`

	// checkout target, hex commit hash
	Commit string `json:"commit,omitempty"`
}

func (a *Action) validate() error {
	switch a.Kind {
	case KindSet:
		if len(a.Key) == 0 {
			return apperrors.Validation("set action requires a key")
		}
	case KindDelete:
		if len(a.Key) == 0 {
			return apperrors.Validation("delete action requires a key")
		}
	case KindCopy:
		if len(a.Key) == 0 || len(a.ToKey) == 0 {
			return apperrors.Validation("copy action requires source and destination keys")
		}
	case KindCommit:
	case KindCheckout:
		if a.Commit == "" {
			return apperrors.Validation("checkout action requires a commit")
		}
	default:
		return apperrors.Validation("unknown action kind: %q", a.Kind)
	}
	return nil
}

func encode(a *Action) ([]byte, error) {
	return json.Marshal(a)
}

func decode(data []byte) (*Action, error) {
	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, apperrors.Consistency("corrupt action record: %v", err)
	}
	return &a, nil
}

// seqKey zero-pads the sequence number so lexicographic backend iteration
// equals log order.
func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
