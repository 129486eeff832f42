// Package errs defines the error kinds the storage engine can return. The
// VFS adapter is the only component that needs to know how these map onto
// the FUSE bridge's numeric error convention; everywhere else they are
// ordinary errors, classified with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means path resolution failed or an operation's target is
	// missing. Routine; callers should not log it.
	ErrNotFound = errors.New("no such entry")

	// ErrPermission means an access check failed for the calling uid/gid.
	ErrPermission = errors.New("permission denied")

	// ErrReadOnly means a mutating operation was attempted against a
	// read-only mount.
	ErrReadOnly = errors.New("read-only filesystem")

	// ErrNotEmpty means rmdir was called on a directory with children.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrExist means create/mkdir/symlink/link was called on a name that
	// already exists in the parent directory.
	ErrExist = errors.New("entry already exists")

	// ErrIO wraps any other operational failure: a metadata-store error, a
	// block-store error, or an unexpected condition.
	ErrIO = errors.New("i/o error")

	// ErrFatalIntegrity means a hash collision or a verify-writes
	// round-trip mismatch was detected. Unrecoverable: the caller must dump
	// diagnostics and abort the process.
	ErrFatalIntegrity = errors.New("fatal integrity error")
)

// IOErrorf formats an error as fmt.Errorf does (so a %w verb wraps its
// operand) and tags it so errors.Is(_, ErrIO) holds.
func IOErrorf(format string, args ...any) error {
	return Wrap(ErrIO, fmt.Errorf(format, args...))
}

type wrapped struct {
	kind error
	msg  string
	err  error
}

func (w *wrapped) Error() string {
	if w.err != nil {
		return w.msg + ": " + w.err.Error()
	}
	return w.msg
}

func (w *wrapped) Unwrap() error {
	if w.err != nil {
		return errors.Join(w.kind, w.err)
	}
	return w.kind
}

// Wrap tags err as belonging to kind while preserving it for errors.Is/As
// and %w-style unwrapping.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: kind, msg: kind.Error(), err: err}
}
