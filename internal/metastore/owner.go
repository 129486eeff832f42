package metastore

import "os"

// processOwner returns the calling process's uid/gid, used to own the root
// inode at bootstrap time. The host's permission model is an external
// collaborator; os.Getuid/Getgid is the stdlib's only
// way to ask it, so no third-party dependency applies here.
func processOwner() (uid, gid uint32, ok bool) {
	return uint32(os.Getuid()), uint32(os.Getgid()), true
}
