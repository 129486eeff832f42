// Package hashfunc implements C1: a deterministic digest of a content block
// under a name chosen once at database-creation time and persisted
// thereafter (see metastore's Option rows). Grounded on the original
// dedupfs's use of Python's hashlib by name, and on
// KarpelesLab-squashfs's RegisterDecompressor-style name registry used for
// C2 below.
package hashfunc

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
)

// Func computes a fixed-width digest of a block. The core treats the
// result as an opaque byte string; only equality is ever compared.
type Func func(block []byte) []byte

var registry = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
}

// Default is used when the caller does not specify a hash function at
// database-creation time; sha1 gives a 160-bit digest at the lowest cost.
const Default = "sha1"

// Lookup returns the digest function registered under name.
func Lookup(name string) (Func, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("hashfunc: unknown hash function %q", name)
	}
	return func(block []byte) []byte {
		h := ctor()
		h.Write(block)
		return h.Sum(nil)
	}, nil
}

// Valid reports whether name is a registered hash function.
func Valid(name string) bool {
	_, ok := registry[name]
	return ok
}
