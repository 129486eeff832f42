package vfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupfs/dedupfs/clock"
	"github.com/dedupfs/dedupfs/internal/blockstore"
	"github.com/dedupfs/dedupfs/internal/errs"
	"github.com/dedupfs/dedupfs/internal/gc"
	"github.com/dedupfs/dedupfs/internal/metastore"
	"github.com/dedupfs/dedupfs/internal/pathcache"
)

func openTestStores(t *testing.T) (*metastore.Store, *blockstore.Store) {
	t.Helper()
	meta, _, err := metastore.Open(filepath.Join(t.TempDir(), "meta.db"), metastore.Options{
		BlockSize:         65536,
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

func TestToErrno(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"not found", errs.ErrNotFound, fuse.ENOENT},
		{"exist", errs.ErrExist, eEXIST},
		{"not empty", errs.ErrNotEmpty, fuse.ENOTEMPTY},
		{"permission", errs.ErrPermission, ePERM},
		{"read only", errs.ErrReadOnly, eROFS},
		{"wrapped not found", errs.IOErrorf("lookup: %w", errs.ErrNotFound), fuse.ENOENT},
		{"unknown", errs.IOErrorf("disk exploded"), fuse.EIO},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, toErrno(c.in))
		})
	}
}

func TestAttrsFromInode(t *testing.T) {
	n := &metastore.Inode{
		Mode:   sIFDIR | 0755,
		Nlinks: 2,
		Size:   4096,
		Uid:    1000,
		Gid:    1000,
		Atime:  100,
		Mtime:  200,
		Ctime:  300,
	}
	attrs := attrsFromInode(n)
	assert.True(t, attrs.Mode.IsDir())
	assert.Equal(t, uint32(2), attrs.Nlink)
	assert.Equal(t, uint64(4096), attrs.Size)
	assert.Equal(t, time.Unix(100, 0), attrs.Atime)
	assert.Equal(t, time.Unix(200, 0), attrs.Mtime)
	assert.Equal(t, time.Unix(300, 0), attrs.Ctime)

	link := &metastore.Inode{Mode: sIFLNK | 0777}
	linkAttrs := attrsFromInode(link)
	assert.True(t, linkAttrs.Mode&os.ModeSymlink != 0)
	assert.False(t, linkAttrs.Mode.IsDir())

	reg := &metastore.Inode{Mode: sIFREG | 0644}
	attrsReg := attrsFromInode(reg)
	assert.False(t, attrsReg.Mode.IsDir())
	assert.False(t, attrsReg.Mode&os.ModeSymlink != 0)
}

func TestIsDirMode(t *testing.T) {
	assert.True(t, isDirMode(sIFDIR|0755))
	assert.False(t, isDirMode(sIFREG|0644))
	assert.False(t, isDirMode(sIFLNK|0777))
}

func TestDirentType(t *testing.T) {
	assert.Equal(t, fuseops.DT_Dir, direntType(sIFDIR|0755))
	assert.Equal(t, fuseops.DT_Link, direntType(sIFLNK|0777))
	assert.Equal(t, fuseops.DT_File, direntType(sIFREG|0644))
}

func TestCacheSegs(t *testing.T) {
	assert.Equal(t, []string{"7", "foo.txt"}, cacheSegs(7, "foo.txt"))
}

func TestDirTreeIDRoot(t *testing.T) {
	fs := New(Config{Clock: clock.NewSimulatedClock(time.Unix(0, 0)), PathCache: pathcache.Config{}})
	id, err := fs.dirTreeID(fuseops.InodeID(metastore.RootInode))
	require.NoError(t, err)
	assert.Equal(t, int64(metastore.RootTreeID), id)
}

func TestDirTreeIDUnknownInode(t *testing.T) {
	fs := New(Config{Clock: clock.NewSimulatedClock(time.Unix(0, 0)), PathCache: pathcache.Config{}})
	_, err := fs.dirTreeID(fuseops.InodeID(999))
	assert.Error(t, err)
}

func TestRememberDirThenDirTreeID(t *testing.T) {
	fs := New(Config{Clock: clock.NewSimulatedClock(time.Unix(0, 0)), PathCache: pathcache.Config{}})
	fs.rememberDir(fuseops.InodeID(42), 7)
	id, err := fs.dirTreeID(fuseops.InodeID(42))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestAllocHandleIsUniqueAndIncreasing(t *testing.T) {
	fs := New(Config{Clock: clock.NewSimulatedClock(time.Unix(0, 0)), PathCache: pathcache.Config{}})
	a := fs.allocHandle()
	b := fs.allocHandle()
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
}

func TestPreserveTypeBits(t *testing.T) {
	meta, _ := openTestStores(t)

	tx, err := meta.Begin()
	require.NoError(t, err)
	inodeNum, err := tx.InsertInode(metastore.Inode{Nlinks: 1, Mode: sIFDIR | 0755})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := meta.Begin()
	require.NoError(t, err)
	defer tx2.Rollback()

	bits := preserveTypeBits(tx2, fuseops.InodeID(inodeNum))
	assert.Equal(t, uint32(sIFDIR), bits)
}

func TestPreserveTypeBitsMissingInodeReturnsZero(t *testing.T) {
	meta, _ := openTestStores(t)

	tx, err := meta.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	assert.Zero(t, preserveTypeBits(tx, fuseops.InodeID(99999)))
}

func TestMaybeRunGCOpCounterResetsAtInterval(t *testing.T) {
	meta, blocks := openTestStores(t)
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	fs := &FileSystem{
		meta:   meta,
		blocks: blocks,
		clock:  sc,
		gcCfg:  gc.Config{Interval: 3, MinInterval: time.Minute},
		lastGC: sc.Now(),
	}

	fs.maybeRunGC()
	assert.Equal(t, 1, fs.opsSinceGC)
	fs.maybeRunGC()
	assert.Equal(t, 2, fs.opsSinceGC)
	fs.maybeRunGC()
	assert.Equal(t, 0, fs.opsSinceGC, "counter resets once it reaches the configured interval")
}

func TestMaybeRunGCRequiresWallClockElapsedToo(t *testing.T) {
	meta, blocks := openTestStores(t)
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	fs := &FileSystem{
		meta:   meta,
		blocks: blocks,
		clock:  sc,
		gcCfg:  gc.Config{Interval: 1, MinInterval: time.Minute},
		lastGC: sc.Now(),
	}

	// The op-count threshold is crossed every call, but wall-clock time
	// has only advanced a little: short of MinInterval, lastGC must stay
	// put, since gc.Run never actually fires.
	sc.AdvanceTime(10 * time.Second)
	fs.maybeRunGC()
	assert.Equal(t, time.Unix(0, 0), fs.lastGC, "short of MinInterval, lastGC must be untouched")

	sc.AdvanceTime(2 * time.Minute)
	fs.maybeRunGC()
	assert.Equal(t, sc.Now(), fs.lastGC, "once MinInterval has elapsed, a run must fire and stamp lastGC")
}

func TestMaybeRunGCDisabledNeverRuns(t *testing.T) {
	meta, blocks := openTestStores(t)
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	fs := &FileSystem{
		meta:   meta,
		blocks: blocks,
		clock:  sc,
		gcCfg:  gc.Config{Disabled: true, Interval: 1},
		lastGC: sc.Now(),
	}

	fs.maybeRunGC()
	fs.maybeRunGC()
	assert.Zero(t, fs.opsSinceGC, "a disabled collector never advances the counter")
}
