package vfs

import (
	"github.com/jacobsa/fuse/fuseops"

	"github.com/dedupfs/dedupfs/internal/buffer"
	"github.com/dedupfs/dedupfs/internal/errs"
	"github.com/dedupfs/dedupfs/internal/metastore"
)

// CreateFile creates a new, empty regular file and opens a handle on it
// in one step.
func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) {
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

	inodeNum, _, err := fs.createChild(tx, op.Parent, op.Name, sIFREG|uint32(op.Mode.Perm()), 0)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	inode, err := tx.GetInode(inodeNum)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	handle := fs.allocHandle()
	fs.fileHandles[handle] = &fileHandle{inode: inodeNum, buf: buffer.New(fs.clock)}

	fs.lookupCounts[fuseops.InodeID(inodeNum)]++
	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(inodeNum),
		Attributes: attrsFromInode(inode),
	}
	op.Handle = handle
	op.Respond(tx.Commit())
}

// CreateSymlink creates a symlink entity with the given target text.
func (fs *FileSystem) CreateSymlink(op *fuseops.CreateSymlinkOp) {
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

	inodeNum, _, err := fs.createChild(tx, op.Parent, op.Name, sIFLNK|0777, 0)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	if err := tx.InsertSymlink(inodeNum, op.Target); err != nil {
		op.Respond(toErrno(err))
		return
	}

	inode, err := tx.GetInode(inodeNum)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	fs.lookupCounts[fuseops.InodeID(inodeNum)]++
	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(inodeNum),
		Attributes: attrsFromInode(inode),
	}
	op.Respond(tx.Commit())
}

// ReadSymlink returns a symlink's target text.
func (fs *FileSystem) ReadSymlink(op *fuseops.ReadSymlinkOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tx, err := fs.meta.Begin()
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	defer tx.Rollback()

	target, err := tx.GetSymlink(int64(op.Inode))
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	op.Target = target
	op.Respond(tx.Commit())
}

// CreateLink adds a second directory entry for an already-existing
// inode, incrementing its link count.
func (fs *FileSystem) CreateLink(op *fuseops.CreateLinkOp) {
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

	parentTreeID, err := fs.dirTreeID(op.Parent)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	if _, err := tx.InsertTreeNode(parentTreeID, op.Name, int64(op.Target)); err != nil {
		op.Respond(toErrno(err))
		return
	}
	if err := tx.AdjustNlinks(int64(op.Target), 1); err != nil {
		op.Respond(toErrno(err))
		return
	}
	fs.invalidateChild(parentTreeID, op.Name)

	inode, err := tx.GetInode(int64(op.Target))
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	fs.lookupCounts[op.Target]++
	op.Entry = fuseops.ChildInodeEntry{
		Child:      op.Target,
		Attributes: attrsFromInode(inode),
	}
	op.Respond(tx.Commit())
}

// Rename moves a directory entry from (OldParent, OldName) to
// (NewParent, NewName), overwriting an existing NewName per POSIX rename
// semantics. It uses a nested Tx internally for the
// remove-existing-target sub-step, per the metadata store's nested-transaction
// convention, while the whole rename commits or rolls back atomically as
// one top-level transaction.
func (fs *FileSystem) Rename(op *fuseops.RenameOp) {
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

	if err := fs.checkParentWritable(tx, op.OldParent, op.Header.Uid, op.Header.Gid); err != nil {
		op.Respond(toErrno(err))
		return
	}
	if op.NewParent != op.OldParent {
		if err := fs.checkParentWritable(tx, op.NewParent, op.Header.Uid, op.Header.Gid); err != nil {
			op.Respond(toErrno(err))
			return
		}
	}

	oldParentTreeID, err := fs.dirTreeID(op.OldParent)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	newParentTreeID, err := fs.dirTreeID(op.NewParent)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	src, err := tx.LookupChild(oldParentTreeID, op.OldName)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	if dst, err := tx.LookupChild(newParentTreeID, op.NewName); err == nil {
		if err := fs.removeRenameTarget(tx.Nested(), op.NewParent, dst); err != nil {
			op.Respond(toErrno(err))
			return
		}
	} else if err != errs.ErrNotFound {
		op.Respond(toErrno(err))
		return
	}

	if err := tx.RetargetTreeNode(src.ID, newParentTreeID, op.NewName); err != nil {
		op.Respond(toErrno(err))
		return
	}

	fs.invalidateChild(oldParentTreeID, op.OldName)
	fs.invalidateChild(newParentTreeID, op.NewName)

	op.Respond(tx.Commit())
}

// removeRenameTarget unlinks whatever NewName previously pointed at,
// using the nested transaction so the whole rename still rolls back
// together if a later step fails.
func (fs *FileSystem) removeRenameTarget(tx *metastore.Tx, parent fuseops.InodeID, dst *metastore.TreeNode) error {
	return fs.unlinkTreeEntry(tx, parent, dst)
}

// StatFS reports aggregate usage drawn from the Block Store alone: its
// physical byte count in fixed 4096-byte units. The metadata store and
// the host filesystem are not consulted, and free counts are reported as
// zero.
func (fs *FileSystem) StatFS(op *fuseops.StatFSOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, physicalBytes, err := fs.blocks.Size()
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	const blockSize = 4096
	op.BlockSize = blockSize
	op.Blocks = uint64(physicalBytes)/blockSize + 1
	op.BlocksFree = 0
	op.BlocksAvailable = 0
	op.Inodes = 1 << 20
	op.InodesFree = 0
	op.Respond(nil)
}
