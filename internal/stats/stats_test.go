package stats

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupfs/dedupfs/internal/blockstore"
	"github.com/dedupfs/dedupfs/internal/metastore"
)

func TestPrintReportsApparentAndPhysicalSize(t *testing.T) {
	meta, _, err := metastore.Open(filepath.Join(t.TempDir(), "meta.db"), metastore.Options{
		BlockSize:         65536,
		HashFunction:      "sha1",
		CompressionMethod: "none",
		Synchronous:       true,
		UseTransactions:   true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	tx, err := meta.Begin()
	require.NoError(t, err)
	inodeNum, err := tx.InsertInode(metastore.Inode{Nlinks: 1, Mode: 0100644, Size: 1234})
	require.NoError(t, err)
	_, err = tx.InsertTreeNode(metastore.RootTreeID, "report.txt", inodeNum)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	blocks, err := blockstore.Open(filepath.Join(t.TempDir(), "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })
	require.NoError(t, blocks.Put([]byte("digest-a"), []byte("0123456789")))

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, meta, blocks))

	out := buf.String()
	assert.Contains(t, out, "apparent size:")
	assert.Contains(t, out, "blocks stored:     1")
	assert.Contains(t, out, "total on disk:")
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.0 KiB", formatSize(1024))
	assert.Equal(t, "1.5 KiB", formatSize(1536))
	assert.Equal(t, "1.0 MiB", formatSize(1024*1024))
}
