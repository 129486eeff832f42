package vfs

import (
	"github.com/jacobsa/fuse/fuseops"

	"github.com/dedupfs/dedupfs/internal/buffer"
	"github.com/dedupfs/dedupfs/internal/errs"
)

// OpenFile populates a write buffer from the inode's current block
// index, and hands back a handle.
func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tx, err := fs.meta.Begin()
	if err != nil {
		op.Respond(toErrno(err))
		return
	}
	defer tx.Rollback()

	buf, err := buffer.Populate(fs.clock, tx, fs.blocks, fs.codec, int64(op.Inode))
	if err != nil {
		op.Respond(toErrno(err))
		return
	}

	handle := fs.allocHandle()
	fs.fileHandles[handle] = &fileHandle{inode: int64(op.Inode), buf: buf}
	op.Handle = handle
	op.Respond(tx.Commit())
}

// ReadFile serves a read entirely from the open handle's in-memory
// buffer. atime is deliberately left untouched, matching the original
// implementation, which treats read-time atime updates as unnecessary
// overhead for a local filesystem.
func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, ok := fs.fileHandles[op.Handle]
	if !ok {
		op.Respond(toErrno(errs.IOErrorf("vfs: no open handle %d", op.Handle)))
		return
	}

	op.BytesRead = h.buf.ReadAt(op.Dst, op.Offset)
	op.Respond(nil)
}

// WriteFile writes into the open handle's in-memory buffer; nothing
// reaches the Metadata/Block Store until the handle is flushed (by
// FlushFile, SyncFile or ReleaseFileHandle).
func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.readOnly {
		op.Respond(toErrno(errs.ErrReadOnly))
		return
	}

	h, ok := fs.fileHandles[op.Handle]
	if !ok {
		op.Respond(toErrno(errs.IOErrorf("vfs: no open handle %d", op.Handle)))
		return
	}

	h.buf.WriteAt(op.Data, op.Offset)
	op.Respond(nil)
}

// SyncFile flushes a dirty handle's buffer without closing it, so an
// fsync is durable before the file is closed.
func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, ok := fs.fileHandles[op.Handle]
	if !ok {
		op.Respond(toErrno(errs.IOErrorf("vfs: no open handle %d", op.Handle)))
		return
	}

	if err := fs.flushHandle(h); err != nil {
		op.Respond(toErrno(err))
		return
	}
	op.Respond(nil)
}

// FlushFile runs the chunk/hash/dedupe pipeline over the handle's
// buffered content if it is dirty.
func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, ok := fs.fileHandles[op.Handle]
	if !ok {
		op.Respond(toErrno(errs.IOErrorf("vfs: no open handle %d", op.Handle)))
		return
	}

	if err := fs.flushHandle(h); err != nil {
		op.Respond(toErrno(err))
		return
	}
	op.Respond(nil)
}

// ReleaseFileHandle flushes any remaining dirty content and forgets the
// handle.
func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if h, ok := fs.fileHandles[op.Handle]; ok {
		if err := fs.flushHandle(h); err != nil {
			// Nothing to propagate: release has no error channel the kernel
			// acts on, but surface it so an operator notices.
			op.Respond(toErrno(err))
			delete(fs.fileHandles, op.Handle)
			return
		}
	}
	delete(fs.fileHandles, op.Handle)
	op.Respond(nil)
}

// flushHandle runs the re-chunk pipeline if h's buffer is dirty,
// updating the inode's size/mtime to match, then clears the dirty flag.
// Runs in its own transaction; the caller holds fs.mu throughout.
func (fs *FileSystem) flushHandle(h *fileHandle) error {
	if !h.buf.Dirty() {
		return nil
	}

	tx, err := fs.meta.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := buffer.Flush(tx, fs.blocks, fs.hashFn, fs.codec, fs.blockSize, fs.verifyWrites, h.inode, h.buf.Bytes())
	if err != nil {
		return err
	}
	if err := tx.UpdateInodeSize(h.inode, result.Size, h.buf.Mtime(), h.buf.Mtime()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	h.buf.ClearDirty()

	fs.maybeRunGC()
	return nil
}
