package vfs

import (
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/dedupfs/dedupfs/internal/errs"
	"github.com/dedupfs/dedupfs/internal/metastore"
)

// MkDir creates a new, empty directory.
func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.readOnly {
		op.Respond(toErrno(errs.ErrReadOnly))
		return
	}

	tx, err := fs.meta.Begin()
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	defer tx.Rollback()

	if err := fs.checkParentWritable(tx, op.Parent, op.Header.Uid, op.Header.Gid); err != nil {
		op.Respond(toErrno(err))
		return
	}

	inodeNum, treeID, err := fs.createChild(tx, op.Parent, op.Name, sIFDIR|uint32(op.Mode.Perm()), 0)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	inode, err := tx.GetInode(inodeNum)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	fs.rememberDir(fuseops.InodeID(inodeNum), treeID)

	fs.lookupCounts[fuseops.InodeID(inodeNum)]++
	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(inodeNum),
		Attributes: attrsFromInode(inode),
	}
	op.Respond(tx.Commit())
}

// createChild is the shared body of mkdir/create/symlink/mknod: allocate
// an inode, link it into the parent directory, and return the inode
// number and the tree row id that names it. Every inode is owned by the
// process that mounted the filesystem, mirroring fs/fs.go's static
// ServerConfig.Uid/Gid rather than deriving ownership per-request.
func (fs *FileSystem) createChild(tx *metastore.Tx, parent fuseops.InodeID, name string, mode uint32, nlinks int64) (inodeNum, treeID int64, err error) {
	parentTreeID, err := fs.dirTreeID(parent)
	if err != nil {
		return 0, 0, err
	}

	now := fs.clock.Now().Unix()
	if nlinks == 0 {
		nlinks = 1
	}

	inodeNum, err = tx.InsertInode(metastore.Inode{
		Nlinks: nlinks,
		Mode:   mode,
		Uid:    fs.uid,
		Gid:    fs.gid,
		Size:   0,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	})
	if err != nil {
		return 0, 0, err
	}

	treeID, err = tx.InsertTreeNode(parentTreeID, name, inodeNum)
	if err != nil {
		return 0, 0, err
	}
	fs.invalidateChild(parentTreeID, name)

	return inodeNum, treeID, nil
}

// RmDir removes an empty directory entry; a non-empty one is rejected.
func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.readOnly {
		op.Respond(toErrno(errs.ErrReadOnly))
		return
	}

	tx, err := fs.meta.Begin()
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	defer tx.Rollback()

	if err := fs.checkParentWritable(tx, op.Parent, op.Header.Uid, op.Header.Gid); err != nil {
		op.Respond(toErrno(err))
		return
	}

	child, err := fs.resolveChild(tx, op.Parent, op.Name)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	hasChildren, err := tx.HasChildren(child.ID)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	if hasChildren {
		op.Respond(toErrno(errs.ErrNotEmpty))
		return
	}

	if err := fs.unlinkTreeEntry(tx, op.Parent, child); err != nil {
		op.Respond(toErrno(err))
		return
	}
	delete(fs.dirTreeIDs, fuseops.InodeID(child.Inode))

	op.Respond(tx.Commit())
}

// Unlink removes a directory entry pointing at a (possibly multiply
// hard-linked) regular file or symlink, decrementing nlinks; the inode
// itself is reclaimed later by garbage collection once nlinks reaches
// zero, not deleted synchronously here.
func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.readOnly {
		op.Respond(toErrno(errs.ErrReadOnly))
		return
	}

	tx, err := fs.meta.Begin()
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	defer tx.Rollback()

	if err := fs.checkParentWritable(tx, op.Parent, op.Header.Uid, op.Header.Gid); err != nil {
		op.Respond(toErrno(err))
		return
	}

	child, err := fs.resolveChild(tx, op.Parent, op.Name)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	if err := fs.unlinkTreeEntry(tx, op.Parent, child); err != nil {
		op.Respond(toErrno(err))
		return
	}

	if err := tx.Commit(); err != nil {
		op.Respond(toErrno(err))
		return
	}
	fs.maybeRunGC()
	op.Respond(nil)
}

// unlinkTreeEntry removes one tree row and decrements the target inode's
// link count, invalidating the path cache entry it occupied.
func (fs *FileSystem) unlinkTreeEntry(tx *metastore.Tx, parent fuseops.InodeID, child *metastore.TreeNode) error {
	if err := tx.DeleteTreeNode(child.ID); err != nil {
		return err
	}
	if err := tx.AdjustNlinks(child.Inode, -1); err != nil {
		return err
	}
	parentTreeID, err := fs.dirTreeID(parent)
	if err != nil {
		return err
	}
	fs.invalidateChild(parentTreeID, child.Name)
	return nil
}

// OpenDir validates that the directory exists and stores a snapshot of
// its children for the lifetime of the handle, so concurrent mutation
// during a paginated ReadDir can't produce a corrupt listing.
func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tx, err := fs.meta.Begin()
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	defer tx.Rollback()

	treeID, err := fs.dirTreeID(op.Inode)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	children, err := tx.ListChildren(treeID)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	entries := make([]fuseops.Dirent, 0, len(children)+2)
	entries = append(entries,
		fuseops.Dirent{Offset: 1, Inode: op.Inode, Name: ".", Type: fuseops.DT_Dir},
		fuseops.Dirent{Offset: 2, Inode: op.Inode, Name: "..", Type: fuseops.DT_Dir},
	)
	for i, c := range children {
		n, err := tx.GetInode(c.Inode)
		if err != nil {
			op.Respond(toErrno(err))
			return
		}
		entries = append(entries, fuseops.Dirent{
			Offset: fuseops.DirOffset(i + 3),
			Inode:  fuseops.InodeID(c.Inode),
			Name:   c.Name,
			Type:   direntType(n.Mode),
		})
	}

	handle := fs.allocHandle()
	fs.dirHandles[handle] = &dirHandle{entries: entries}
	op.Handle = handle
	op.Respond(tx.Commit())
}

// ReadDir serves one page of a directory listing from the handle's
// snapshot, using fuseutil.WriteDirent for the on-wire encoding.
func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, ok := fs.dirHandles[op.Handle]
	if !ok {
		op.Respond(fuse.EINVAL)
		return
	}

	var n int
	for _, d := range h.entries {
		if int64(d.Offset) <= int64(op.Offset) {
			continue
		}
		written := fuseutil.WriteDirent(op.Dst[n:], d)
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	op.Respond(nil)
}

// ReleaseDirHandle discards a directory handle's snapshot.
func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	delete(fs.dirHandles, op.Handle)
	op.Respond(nil)
}

// checkParentWritable requires write access to parent for the calling
// (uid, gid), per access(path, mask)'s owner/group/other semantics:
// creating, renaming or removing a directory entry is a write against
// the directory that holds it, not against the entry itself.
func (fs *FileSystem) checkParentWritable(tx *metastore.Tx, parent fuseops.InodeID, callerUid, callerGid uint32) error {
	n, err := tx.GetInode(int64(parent))
	if err != nil {
		return err
	}
	return checkAccess(n.Mode, n.Uid, n.Gid, callerUid, callerGid, accessWrite)
}

func direntType(mode uint32) fuseops.DirentType {
	switch mode &^ 0777 {
	case sIFDIR:
		return fuseops.DT_Dir
	case sIFLNK:
		return fuseops.DT_Link
	default:
		return fuseops.DT_File
	}
}
