package commitlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextdb/internal/backend"
	apperrors "contextdb/internal/errors"
	"contextdb/internal/merkle"
)

func newCommit(parent *merkle.Hash, message string) (merkle.Hash, *merkle.Commit) {
	commit := &merkle.Commit{
		Parent:  parent,
		Root:    merkle.HashTree(merkle.Tree{}),
		Time:    0,
		Author:  "test",
		Message: message,
	}
	return merkle.HashCommit(commit), commit
}

func TestCommitLog(t *testing.T) {
	log := NewLog(backend.NewMemoryBackend())

	t.Run("EmptyHead", func(t *testing.T) {
		_, err := log.Head()
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	genesisID, genesis := newCommit(nil, "genesis")

	t.Run("AppendGenesis", func(t *testing.T) {
		require.NoError(t, log.Append(genesisID, genesis))

		head, err := log.Head()
		require.NoError(t, err)
		assert.Equal(t, genesisID, head)

		got, err := log.Get(genesisID)
		require.NoError(t, err)
		assert.Equal(t, "genesis", got.Message)
		assert.Nil(t, got.Parent)
	})

	childID, child := newCommit(&genesisID, "child")

	t.Run("AppendChild", func(t *testing.T) {
		require.NoError(t, log.Append(childID, child))

		head, err := log.Head()
		require.NoError(t, err)
		assert.Equal(t, childID, head)
	})

	t.Run("MissingParentRejected", func(t *testing.T) {
		bogus := merkle.HashBlob([]byte("never committed"))
		orphanID, orphan := newCommit(&bogus, "orphan")

		err := log.Append(orphanID, orphan)
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConsistency))

		// nothing written, head unchanged
		_, err = log.Get(orphanID)
		assert.True(t, apperrors.IsNotFound(err))
		head, err := log.Head()
		require.NoError(t, err)
		assert.Equal(t, childID, head)
	})

	t.Run("Walk", func(t *testing.T) {
		var messages []string
		err := log.Walk(func(id merkle.Hash, commit *merkle.Commit) error {
			messages = append(messages, commit.Message)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"child", "genesis"}, messages)
	})

	t.Run("SetHead", func(t *testing.T) {
		require.NoError(t, log.SetHead(genesisID))

		head, err := log.Head()
		require.NoError(t, err)
		assert.Equal(t, genesisID, head)

		// both commits still present; the log is append-only
		_, err = log.Get(childID)
		require.NoError(t, err)
	})

	t.Run("SetHeadUnknownCommit", func(t *testing.T) {
		err := log.SetHead(merkle.HashBlob([]byte("unknown")))
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := log.Get(merkle.HashBlob([]byte("missing")))
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}
