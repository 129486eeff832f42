package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetMissing(t *testing.T) {
	store := openTestStore(t)
	_, ok, err := store.Get([]byte("nope"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutThenGet(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put([]byte("digest-a"), []byte("payload")))

	data, ok, err := store.Get([]byte("digest-a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put([]byte("digest-a"), []byte("payload")))
	require.NoError(t, store.Delete([]byte("digest-a")))

	_, ok, err := store.Get([]byte("digest-a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSize(t *testing.T) {
	store := openTestStore(t)
	count, physicalBytes, err := store.Size()
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, physicalBytes)

	require.NoError(t, store.Put([]byte("a"), []byte("1234")))
	require.NoError(t, store.Put([]byte("b"), []byte("12")))

	count, physicalBytes, err = store.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(6), physicalBytes)
}
