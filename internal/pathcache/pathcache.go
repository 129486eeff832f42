// Package pathcache implements C5: an in-memory prefix tree that maps
// resolved path segments to (tree id, inode) pairs, so repeated lookups of
// the same path don't have to re-walk the Metadata Store one segment at a
// time. Grounded on original_source/dedupfs.py's __path2keys/__cache_set/
// __cache_check_gc/__cache_do_gc, using the clock.Clock abstraction
// (clock/*.go) for the time-based eviction sweep so tests can drive it
// with a SimulatedClock instead of sleeping.
package pathcache

import (
	"sync"
	"time"

	"github.com/dedupfs/dedupfs/clock"
)

// Entry is what a resolved path segment maps to.
type Entry struct {
	TreeID int64
	Inode  int64
}

type node struct {
	children map[string]*node
	entry    Entry
	hasEntry bool
	lastUsed time.Time
}

// Cache is the path resolution cache. The zero value is not
// usable; construct with New.
type Cache struct {
	mu    sync.Mutex
	clock clock.Clock
	root  *node

	timeout  time.Duration // cache_timeout: entries idle longer than this are swept
	interval int           // gc interval: sweep check every N inserts
	ops      int           // Insert calls since the last sweep; Lookup does not count
	lastScan time.Time
}

// Config holds the cache's two tunables. The CLI sets Timeout from
// --cache-timeout; Interval has no flag and keeps its default.
type Config struct {
	Timeout  time.Duration // default 60s
	Interval int           // default ~2500 ops
}

// New constructs an empty cache rooted at the filesystem root.
func New(c clock.Clock, cfg Config) *Cache {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2500
	}
	return &Cache{
		clock:    c,
		root:     &node{children: map[string]*node{}},
		timeout:  cfg.Timeout,
		interval: cfg.Interval,
		lastScan: c.Now(),
	}
}

// Lookup walks segs (a path split on "/", root represented by an empty
// slice) and returns the cached entry for the full path, if every
// intermediate segment is itself cached.
func (c *Cache) Lookup(segs []string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.root
	now := c.clock.Now()
	for _, seg := range segs {
		child, ok := n.children[seg]
		if !ok {
			return Entry{}, false
		}
		child.lastUsed = now
		n = child
	}
	if !n.hasEntry {
		return Entry{}, false
	}
	return n.entry, true
}

// Insert records the resolution of segs to entry, creating any missing
// intermediate nodes. It also runs the counter/interval-triggered sweep,
// per original_source's __cache_set calling __cache_check_gc.
func (c *Cache) Insert(segs []string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	n := c.root
	for _, seg := range segs {
		child, ok := n.children[seg]
		if !ok {
			child = &node{children: map[string]*node{}}
			n.children[seg] = child
		}
		child.lastUsed = now
		n = child
	}
	n.entry = entry
	n.hasEntry = true

	c.ops++
	c.maybeSweep(now)
}

// Invalidate drops the cached entry (and, for a directory, its entire
// subtree) at segs, called by every mutating operation so that it must not
// leave stale entries behind.
func (c *Cache) Invalidate(segs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(segs) == 0 {
		c.root = &node{children: map[string]*node{}}
		return
	}

	parent := c.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := parent.children[seg]
		if !ok {
			return
		}
		parent = child
	}
	delete(parent.children, segs[len(segs)-1])
}

// maybeSweep runs the recursive eviction pass once the op counter has
// crossed interval AND the wall-clock timeout has also elapsed since the
// last scan, per __cache_check_gc's nested "if requests >= N: if now -
// last >= timeout: gc()". Must be called with c.mu held.
func (c *Cache) maybeSweep(now time.Time) {
	if c.ops < c.interval {
		return
	}
	if now.Sub(c.lastScan) < c.timeout {
		return
	}
	c.ops = 0
	c.lastScan = now
	sweep(c.root, now, c.timeout)
}

// sweep recursively removes nodes (and their descendants) not touched
// within timeout, per __cache_do_gc's recursive descent.
func sweep(n *node, now time.Time, timeout time.Duration) {
	for seg, child := range n.children {
		if now.Sub(child.lastUsed) > timeout {
			delete(n.children, seg)
			continue
		}
		sweep(child, now, timeout)
	}
}

// Len reports the number of cached nodes, for tests and --print-stats.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return countNodes(c.root)
}

func countNodes(n *node) int {
	total := 1
	for _, child := range n.children {
		total += countNodes(child)
	}
	return total
}
