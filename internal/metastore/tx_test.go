package metastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollbackDiscardsChanges(t *testing.T) {
	store := openTestStore(t)

	tx, err := store.Begin()
	require.NoError(t, err)
	inodeNum, err := tx.InsertInode(Inode{Nlinks: 1, Mode: 0100644})
	require.NoError(t, err)
	_, err = tx.InsertTreeNode(RootTreeID, "rolled-back.txt", inodeNum)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	tx2, err := store.Begin()
	require.NoError(t, err)
	defer tx2.Rollback()
	_, err = tx2.LookupChild(RootTreeID, "rolled-back.txt")
	assert.Error(t, err, "a rolled-back insert must not be visible")
}

func TestNestedTxSharesParentAndNoopsOnCommit(t *testing.T) {
	store := openTestStore(t)

	tx, err := store.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	inodeNum, err := tx.InsertInode(Inode{Nlinks: 1, Mode: 0100644})
	require.NoError(t, err)

	nested := tx.Nested()
	_, err = nested.InsertTreeNode(RootTreeID, "via-nested.txt", inodeNum)
	require.NoError(t, err)
	require.NoError(t, nested.Commit(), "a nested Tx's Commit must be a no-op")

	// The row must be visible to the parent tx (same underlying
	// connection/transaction), and only disappear if the parent rolls back.
	_, err = tx.LookupChild(RootTreeID, "via-nested.txt")
	require.NoError(t, err)
}

func TestAutocommitModeNeverOpensRealTransaction(t *testing.T) {
	path := t.TempDir() + "/meta.db"
	opts := testOptions()
	opts.UseTransactions = false

	store, _, err := Open(path, opts)
	require.NoError(t, err)
	defer store.Close()

	tx, err := store.Begin()
	require.NoError(t, err)

	inodeNum, err := tx.InsertInode(Inode{Nlinks: 1, Mode: 0100644})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(), "rollback is a no-op in autocommit mode")

	// Because every statement commits immediately outside a real
	// transaction, the insert above must already be durable despite the
	// "rollback".
	tx2, err := store.Begin()
	require.NoError(t, err)
	defer tx2.Rollback()
	got, err := tx2.GetInode(inodeNum)
	require.NoError(t, err)
	assert.Equal(t, inodeNum, got.Inode)
}
