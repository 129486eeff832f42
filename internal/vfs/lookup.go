package vfs

import (
	"database/sql"
	"strconv"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/dedupfs/dedupfs/internal/errs"
	"github.com/dedupfs/dedupfs/internal/metastore"
	"github.com/dedupfs/dedupfs/internal/pathcache"
)

// resolveChild looks up name under the directory identified by parent,
// consulting the path cache first and falling back to the Metadata Store
// on a miss. Callers hold fs.mu.
func (fs *FileSystem) resolveChild(tx *metastore.Tx, parent fuseops.InodeID, name string) (*metastore.TreeNode, error) {
	parentTreeID, err := fs.dirTreeID(parent)
	if err != nil {
		return nil, err
	}

	segs := cacheSegs(parentTreeID, name)
	if e, ok := fs.cache.Lookup(segs); ok {
		return &metastore.TreeNode{ID: e.TreeID, ParentID: sql.NullInt64{Int64: parentTreeID, Valid: true}, Inode: e.Inode, Name: name}, nil
	}

	n, err := tx.LookupChild(parentTreeID, name)
	if err != nil {
		return nil, err
	}
	fs.cache.Insert(segs, pathcache.Entry{TreeID: n.ID, Inode: n.Inode})
	return n, nil
}

// rememberDir records inode's owning tree id, so future lookups with
// inode as the parent can resolve without a reverse query. Only
// directories are tracked this way because only directories are
// guaranteed to have exactly one tree entry; a regular file may be
// hard-linked under several.
func (fs *FileSystem) rememberDir(inode fuseops.InodeID, treeID int64) {
	fs.dirTreeIDs[inode] = treeID
}

// dirTreeID returns the tree id of the directory identified by inode.
func (fs *FileSystem) dirTreeID(inode fuseops.InodeID) (int64, error) {
	if int64(inode) == metastore.RootInode {
		return metastore.RootTreeID, nil
	}
	id, ok := fs.dirTreeIDs[inode]
	if !ok {
		return 0, errs.IOErrorf("vfs: inode %d is not a known directory", inode)
	}
	return id, nil
}

// invalidateChild drops name under parentTreeID from the path cache, per
// every mutating operation that adds, removes or retargets a tree entry
// so a later lookup can't observe a stale mapping.
func (fs *FileSystem) invalidateChild(parentTreeID int64, name string) {
	fs.cache.Invalidate(cacheSegs(parentTreeID, name))
}

func cacheSegs(parentTreeID int64, name string) []string {
	return []string{strconv.FormatInt(parentTreeID, 10), name}
}
