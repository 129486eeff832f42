package vfs

import "github.com/jacobsa/fuse/fuseops"

// findHandleForInode returns an already-open file handle for inode, if
// any, so SetInodeAttributes (truncate) and other attribute changes can
// keep an in-flight buffer's view consistent rather than writing under
// it. Linear scan: the number of concurrently open handles on one inode
// is small in practice and this runs under the single cooperative lock.
func (fs *FileSystem) findHandleForInode(inode fuseops.InodeID) *fileHandle {
	for _, h := range fs.fileHandles {
		if h.inode == int64(inode) {
			return h
		}
	}
	return nil
}
