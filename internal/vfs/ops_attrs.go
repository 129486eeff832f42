package vfs

import (
	"github.com/jacobsa/fuse/fuseops"

	"github.com/dedupfs/dedupfs/internal/buffer"
	"github.com/dedupfs/dedupfs/internal/errs"
	"github.com/dedupfs/dedupfs/internal/metastore"
)

// LookUpInode resolves parent+name to a child inode,
// grounded on fs/fs.go's LookUpInode (lock, resolve, delegate, respond).
func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tx, err := fs.meta.Begin()
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	defer tx.Rollback()

	child, err := fs.resolveChild(tx, op.Parent, op.Name)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	inode, err := tx.GetInode(child.Inode)
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	if isDirMode(inode.Mode) {
		fs.rememberDir(fuseops.InodeID(child.Inode), child.ID)
	}

	fs.lookupCounts[fuseops.InodeID(child.Inode)]++
	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(child.Inode),
		Attributes: attrsFromInode(inode),
	}
	op.Respond(tx.Commit())
}

// GetInodeAttributes returns an inode's current attributes.
func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tx, err := fs.meta.Begin()
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	defer tx.Rollback()

	inode, err := tx.GetInode(int64(op.Inode))
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	op.Attributes = attrsFromInode(inode)
	op.Respond(tx.Commit())
}

// SetInodeAttributes implements chmod, truncate and utime(s); it does not
// change an inode's owner or group. A size change routes through the open file's buffer when one
// exists (so the handle's in-memory content stays consistent until
// flush); otherwise it flushes the truncated content immediately.
func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) {
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

	target, err := tx.GetInode(int64(op.Inode))
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	if err := checkAccess(target.Mode, target.Uid, target.Gid, op.Header.Uid, op.Header.Gid, accessWrite); err != nil {
		op.Respond(toErrno(err))
		return
	}

	now := fs.clock.Now().Unix()

	if op.Mode != nil {
		mode := uint32(*op.Mode)&0777 | preserveTypeBits(tx, op.Inode)
		if err := tx.UpdateInodeMode(int64(op.Inode), mode, now); err != nil {
			op.Respond(toErrno(err))
			return
		}
	}

	if op.Size != nil {
		if h := fs.findHandleForInode(op.Inode); h != nil {
			h.buf.Truncate(int64(*op.Size))
		} else if err := fs.truncateStored(tx, int64(op.Inode), int64(*op.Size), now); err != nil {
			op.Respond(toErrno(err))
			return
		}
	}

	var atime, mtime int64 = -1, -1
	if op.Atime != nil {
		atime = op.Atime.Unix()
	}
	if op.Mtime != nil {
		mtime = op.Mtime.Unix()
	}
	if atime >= 0 || mtime >= 0 {
		if err := tx.UpdateInodeTimes(int64(op.Inode), atime, mtime, now); err != nil {
			op.Respond(toErrno(err))
			return
		}
	}

	inode, err := tx.GetInode(int64(op.Inode))
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	op.Attributes = attrsFromInode(inode)
	op.Respond(tx.Commit())
}

// truncateStored flushes shrunk/grown content directly against the
// Metadata/Block Store for an inode with no open handle, reusing the
// same re-chunk pipeline a buffered flush uses.
func (fs *FileSystem) truncateStored(tx *metastore.Tx, inode, size, now int64) error {
	rows, err := tx.ListIndex(inode)
	if err != nil {
		return err
	}

	var content []byte
	for _, row := range rows {
		digest, err := tx.HashByID(row.HashID)
		if err != nil {
			return err
		}
		compressed, ok, err := fs.blocks.Get(digest)
		if err != nil {
			return errs.IOErrorf("vfs: read block store: %v", err)
		}
		if !ok {
			return errs.Wrap(errs.ErrFatalIntegrity, errs.IOErrorf("vfs: missing block for inode %d", inode))
		}
		plain, err := fs.codec.Decompress(compressed)
		if err != nil {
			return errs.IOErrorf("vfs: decompress block: %v", err)
		}
		content = append(content, plain...)
	}

	if size < int64(len(content)) {
		content = content[:size]
	} else if size > int64(len(content)) {
		grown := make([]byte, size)
		copy(grown, content)
		content = grown
	}

	result, err := buffer.Flush(tx, fs.blocks, fs.hashFn, fs.codec, fs.blockSize, fs.verifyWrites, inode, content)
	if err != nil {
		return err
	}
	return tx.UpdateInodeSize(inode, result.Size, now, now)
}

// ForgetInode drops the kernel's reference count on an inode. Since
// nothing is pinned in memory per-inode beyond the lookup count itself,
// this just decrements the bookkeeping map.
func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.lookupCounts[op.Inode] <= op.N {
		delete(fs.lookupCounts, op.Inode)
	} else {
		fs.lookupCounts[op.Inode] -= op.N
	}
	op.Respond(nil)
}

func isDirMode(mode uint32) bool {
	return mode&sIFDIR == sIFDIR
}

func preserveTypeBits(tx *metastore.Tx, inode fuseops.InodeID) uint32 {
	n, err := tx.GetInode(int64(inode))
	if err != nil {
		return 0
	}
	return n.Mode &^ 0777
}
