package pathcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupfs/dedupfs/clock"
)

func TestInsertAndLookup(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(sc, Config{})

	c.Insert([]string{"1", "foo"}, Entry{TreeID: 2, Inode: 2})
	c.Insert([]string{"1", "foo", "2", "bar"}, Entry{TreeID: 3, Inode: 3})

	entry, ok := c.Lookup([]string{"1", "foo"})
	require.True(t, ok)
	assert.Equal(t, Entry{TreeID: 2, Inode: 2}, entry)

	entry, ok = c.Lookup([]string{"1", "foo", "2", "bar"})
	require.True(t, ok)
	assert.Equal(t, Entry{TreeID: 3, Inode: 3}, entry)

	_, ok = c.Lookup([]string{"1", "missing"})
	assert.False(t, ok)
}

func TestInvalidateSingle(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(sc, Config{})

	c.Insert([]string{"1", "foo"}, Entry{TreeID: 2, Inode: 2})
	c.Invalidate([]string{"1", "foo"})

	_, ok := c.Lookup([]string{"1", "foo"})
	assert.False(t, ok)
}

func TestInvalidateSubtree(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(sc, Config{})

	c.Insert([]string{"1", "dir"}, Entry{TreeID: 2, Inode: 2})
	c.Insert([]string{"1", "dir", "2", "child"}, Entry{TreeID: 3, Inode: 3})

	c.Invalidate([]string{"1", "dir"})

	_, ok := c.Lookup([]string{"1", "dir"})
	assert.False(t, ok, "the entry itself must be gone")
	_, ok = c.Lookup([]string{"1", "dir", "2", "child"})
	assert.False(t, ok, "its descendants must be gone along with it")
}

func TestInvalidateEmptyResetsWholeCache(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(sc, Config{})

	c.Insert([]string{"1", "a"}, Entry{TreeID: 2, Inode: 2})
	c.Insert([]string{"1", "b"}, Entry{TreeID: 3, Inode: 3})

	c.Invalidate(nil)

	_, ok := c.Lookup([]string{"1", "a"})
	assert.False(t, ok)
	_, ok = c.Lookup([]string{"1", "b"})
	assert.False(t, ok)
}

func TestSweepEvictsIdleEntries(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(sc, Config{Timeout: time.Minute, Interval: 1})

	c.Insert([]string{"1", "foo"}, Entry{TreeID: 2, Inode: 2})

	sc.AdvanceTime(2 * time.Minute)
	// Any insert past the interval threshold triggers a sweep pass, which
	// should now find "foo" idle beyond the configured timeout.
	c.Insert([]string{"1", "bar"}, Entry{TreeID: 3, Inode: 3})

	_, ok := c.Lookup([]string{"1", "foo"})
	assert.False(t, ok, "entries idle past the timeout should be swept")
	_, ok = c.Lookup([]string{"1", "bar"})
	assert.True(t, ok, "the entry that triggered the sweep should survive it")
}

func TestSweepRequiresBothOpCountAndTimeout(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(sc, Config{Timeout: time.Minute, Interval: 100})

	c.Insert([]string{"1", "foo"}, Entry{TreeID: 2, Inode: 2})

	sc.AdvanceTime(2 * time.Minute)
	// Time has elapsed past the timeout, but the op counter (now at 2,
	// against an interval of 100) has not crossed its threshold: a sweep
	// must not run, and "foo" must survive despite being idle.
	c.Insert([]string{"1", "bar"}, Entry{TreeID: 3, Inode: 3})

	_, ok := c.Lookup([]string{"1", "foo"})
	assert.True(t, ok, "sweeping on elapsed time alone, without the op-count threshold, is wrong")
}

func TestLenCountsRootPlusNodes(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(sc, Config{})
	assert.Equal(t, 1, c.Len(), "an empty cache is just the root node")

	c.Insert([]string{"1", "a"}, Entry{TreeID: 2, Inode: 2})
	assert.Equal(t, 3, c.Len(), "root + tree-id segment + name segment")
}
