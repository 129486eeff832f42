package vfs

import "github.com/dedupfs/dedupfs/internal/errs"

// Access mask bits, matching the standard access(2) R_OK/W_OK/X_OK
// values used by __access.
const (
	accessRead  uint32 = 0x4
	accessWrite uint32 = 0x2
	accessExec  uint32 = 0x1
)

// checkAccess applies standard Unix owner/group/other permission
// semantics: owner bits apply if uid matches the inode's owner, else
// group bits if gid matches the inode's group, else other bits.
// Grounded on __access's "o and (m & 0400)) or (g and ...) or (w and
// ...)" per-class-of-bits check, one mask bit at a time rather than
// __access's bitwise-OR'd flags, since every call site here checks a
// single mask.
func checkAccess(mode, uid, gid, callerUid, callerGid, mask uint32) error {
	owner := callerUid == uid
	group := callerGid == gid && !owner
	other := !(owner || group)

	var bits uint32
	switch {
	case owner:
		bits = (mode >> 6) & 0x7
	case group:
		bits = (mode >> 3) & 0x7
	case other:
		bits = mode & 0x7
	}

	if bits&mask != mask {
		return errs.ErrPermission
	}
	return nil
}
