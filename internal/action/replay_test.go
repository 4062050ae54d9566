package action

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextdb/internal/backend"
	apperrors "contextdb/internal/errors"
	"contextdb/internal/merkle"
)

// fakeApplier records the calls the replayer makes, in order.
type fakeApplier struct {
	calls []string
	fail  Kind // kind that should fail, if any
}

func (f *fakeApplier) note(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return nil
}

func (f *fakeApplier) ApplySet(key []string, value []byte) error {
	if f.fail == KindSet {
		return fmt.Errorf("set failed")
	}
	return f.note("set %v=%s", key, value)
}

func (f *fakeApplier) ApplyDelete(key []string) error {
	return f.note("delete %v", key)
}

func (f *fakeApplier) ApplyCopy(from, to []string) error {
	return f.note("copy %v->%v", from, to)
}

func (f *fakeApplier) ApplyCommit(time int64, author, message string) (merkle.Hash, error) {
	if err := f.note("commit %d %s %s", time, author, message); err != nil {
		return merkle.Hash{}, err
	}
	return merkle.Hash{}, nil
}

func (f *fakeApplier) ApplyCheckout(id merkle.Hash) error {
	return f.note("checkout %s", id)
}

func TestRecorderAssignsSequence(t *testing.T) {
	rec, err := NewRecorder(backend.NewMemoryBackend())
	require.NoError(t, err)

	a := &Action{Kind: KindSet, Key: []string{"a"}, Value: []byte{1}}
	require.NoError(t, rec.Record(a))
	assert.Equal(t, uint64(0), a.Seq)
	assert.NotEmpty(t, a.ID)

	b := &Action{Kind: KindDelete, Key: []string{"a"}}
	require.NoError(t, rec.Record(b))
	assert.Equal(t, uint64(1), b.Seq)
	assert.Equal(t, uint64(2), rec.Len())
}

func TestRecorderResumesSequence(t *testing.T) {
	db := backend.NewMemoryBackend()

	rec, err := NewRecorder(db)
	require.NoError(t, err)
	require.NoError(t, rec.Record(&Action{Kind: KindSet, Key: []string{"a"}, Value: []byte{1}}))
	require.NoError(t, rec.Record(&Action{Kind: KindCommit}))

	// a fresh recorder over the same log continues after the last entry
	resumed, err := NewRecorder(db)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resumed.Len())

	next := &Action{Kind: KindSet, Key: []string{"b"}, Value: []byte{2}}
	require.NoError(t, resumed.Record(next))
	assert.Equal(t, uint64(2), next.Seq)
}

func TestRecorderRejectsInvalidActions(t *testing.T) {
	rec, err := NewRecorder(backend.NewMemoryBackend())
	require.NoError(t, err)

	cases := []*Action{
		{Kind: KindSet},                  // no key
		{Kind: KindCopy, Key: []string{"a"}}, // no destination
		{Kind: KindCheckout},             // no commit
		{Kind: Kind("bogus")},
	}
	for _, a := range cases {
		err := rec.Record(a)
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	}

	// nothing got written
	assert.Equal(t, uint64(0), rec.Len())
}

func TestReplayDrivesApplierInOrder(t *testing.T) {
	rec, err := NewRecorder(backend.NewMemoryBackend())
	require.NoError(t, err)

	require.NoError(t, rec.Record(&Action{Kind: KindSet, Key: []string{"a", "b"}, Value: []byte("1")}))
	require.NoError(t, rec.Record(&Action{Kind: KindCopy, Key: []string{"a"}, ToKey: []string{"z"}}))
	require.NoError(t, rec.Record(&Action{Kind: KindDelete, Key: []string{"a", "b"}}))
	require.NoError(t, rec.Record(&Action{Kind: KindCommit, Time: 7, Author: "alice", Message: "snap"}))

	target := &fakeApplier{}
	require.NoError(t, NewReplayer(nil).Replay(rec, target))

	assert.Equal(t, []string{
		"set [a b]=1",
		"copy [a]->[z]",
		"delete [a b]",
		"commit 7 alice snap",
	}, target.calls)
}

func TestReplayIdempotence(t *testing.T) {
	rec, err := NewRecorder(backend.NewMemoryBackend())
	require.NoError(t, err)
	require.NoError(t, rec.Record(&Action{Kind: KindSet, Key: []string{"a"}, Value: []byte("1")}))
	require.NoError(t, rec.Record(&Action{Kind: KindCommit, Author: "a"}))

	first := &fakeApplier{}
	require.NoError(t, NewReplayer(nil).Replay(rec, first))

	second := &fakeApplier{}
	require.NoError(t, NewReplayer(nil).Replay(rec, second))

	assert.Equal(t, first.calls, second.calls)
}

func TestReplayAbortsOnApplyError(t *testing.T) {
	rec, err := NewRecorder(backend.NewMemoryBackend())
	require.NoError(t, err)
	require.NoError(t, rec.Record(&Action{Kind: KindDelete, Key: []string{"a"}}))
	require.NoError(t, rec.Record(&Action{Kind: KindSet, Key: []string{"a"}, Value: []byte("1")}))
	require.NoError(t, rec.Record(&Action{Kind: KindDelete, Key: []string{"b"}}))

	target := &fakeApplier{fail: KindSet}
	err = NewReplayer(nil).Replay(rec, target)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeReplay))

	// nothing after the failing action was applied
	assert.Equal(t, []string{"delete [a]"}, target.calls)
}

func TestReplayAbortsOnSequenceGap(t *testing.T) {
	db := backend.NewMemoryBackend()
	rec, err := NewRecorder(db)
	require.NoError(t, err)
	require.NoError(t, rec.Record(&Action{Kind: KindSet, Key: []string{"a"}, Value: []byte("1")}))

	// write a record out of sequence behind the recorder's back
	gap := &Action{Seq: 5, ID: "x", Kind: KindDelete, Key: []string{"a"}}
	data, err := encode(gap)
	require.NoError(t, err)
	require.NoError(t, db.Put(seqKey(gap.Seq), data))

	err = NewReplayer(nil).Replay(rec, &fakeApplier{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeReplay))
}

func TestReplayAbortsOnCorruptRecord(t *testing.T) {
	db := backend.NewMemoryBackend()
	rec, err := NewRecorder(db)
	require.NoError(t, err)
	require.NoError(t, rec.Record(&Action{Kind: KindSet, Key: []string{"a"}, Value: []byte("1")}))

	require.NoError(t, db.Put(seqKey(1), []byte("{not json")))

	err = NewReplayer(nil).Replay(rec, &fakeApplier{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeReplay))
}
