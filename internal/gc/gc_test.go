package gc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupfs/dedupfs/internal/blockstore"
	"github.com/dedupfs/dedupfs/internal/buffer"
	"github.com/dedupfs/dedupfs/internal/compress"
	"github.com/dedupfs/dedupfs/internal/hashfunc"
	"github.com/dedupfs/dedupfs/internal/metastore"
)

func newStores(t *testing.T) (*metastore.Store, *blockstore.Store) {
	t.Helper()
	meta, _, err := metastore.Open(filepath.Join(t.TempDir(), "meta.db"), metastore.Options{
		BlockSize:         16,
		HashFunction:      "sha1",
		CompressionMethod: "none",
		Synchronous:       true,
		UseTransactions:   true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	blocks, err := blockstore.Open(filepath.Join(t.TempDir(), "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })

	return meta, blocks
}

func TestRunReclaimsUnlinkedFile(t *testing.T) {
	meta, blocks := newStores(t)
	hashFn, err := hashfunc.Lookup("sha1")
	require.NoError(t, err)
	codec, err := compress.Lookup("none")
	require.NoError(t, err)

	tx, err := meta.Begin()
	require.NoError(t, err)
	inodeNum, err := tx.InsertInode(metastore.Inode{Nlinks: 1, Mode: 0100644})
	require.NoError(t, err)
	treeID, err := tx.InsertTreeNode(metastore.RootTreeID, "doomed.txt", inodeNum)
	require.NoError(t, err)
	_, err = buffer.Flush(tx, blocks, hashFn, codec, 16, false, inodeNum, []byte("some file content"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	blockCountBefore, _, err := blocks.Size()
	require.NoError(t, err)
	require.Positive(t, blockCountBefore)

	// Simulate unlink: drop the tree row and the link count together.
	tx2, err := meta.Begin()
	require.NoError(t, err)
	require.NoError(t, tx2.DeleteTreeNode(treeID))
	require.NoError(t, tx2.AdjustNlinks(inodeNum, -1))
	require.NoError(t, tx2.Commit())

	result, err := Run(meta, blocks)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeadInodes)
	assert.Positive(t, result.OrphanBlocks)

	tx3, err := meta.Begin()
	require.NoError(t, err)
	defer tx3.Rollback()
	_, err = tx3.GetInode(inodeNum)
	assert.Error(t, err, "the inode row must be gone")

	blockCountAfter, _, err := blocks.Size()
	require.NoError(t, err)
	assert.Zero(t, blockCountAfter, "its now-unreferenced blocks must be gone too")
}

func TestRunLeavesLiveFilesAlone(t *testing.T) {
	meta, blocks := newStores(t)
	hashFn, err := hashfunc.Lookup("sha1")
	require.NoError(t, err)
	codec, err := compress.Lookup("none")
	require.NoError(t, err)

	tx, err := meta.Begin()
	require.NoError(t, err)
	inodeNum, err := tx.InsertInode(metastore.Inode{Nlinks: 1, Mode: 0100644})
	require.NoError(t, err)
	_, err = tx.InsertTreeNode(metastore.RootTreeID, "alive.txt", inodeNum)
	require.NoError(t, err)
	_, err = buffer.Flush(tx, blocks, hashFn, codec, 16, false, inodeNum, []byte("keep me"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	result, err := Run(meta, blocks)
	require.NoError(t, err)
	assert.Zero(t, result.DeadInodes)
	assert.Zero(t, result.OrphanBlocks)

	tx2, err := meta.Begin()
	require.NoError(t, err)
	defer tx2.Rollback()
	_, err = tx2.GetInode(inodeNum)
	assert.NoError(t, err, "a live, referenced inode must survive")
}

func TestRunIsIdempotent(t *testing.T) {
	meta, blocks := newStores(t)

	result, err := Run(meta, blocks)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result, "nothing to collect on a fresh store")

	result, err = Run(meta, blocks)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result, "running again finds nothing new")
}
