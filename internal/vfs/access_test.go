package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dedupfs/dedupfs/internal/errs"
)

func TestCheckAccessOwnerGroupOther(t *testing.T) {
	const mode = 0640 // rw-r-----

	cases := []struct {
		name             string
		uid, gid         uint32
		callUid, callGid uint32
		mask             uint32
		wantErr          bool
	}{
		{"owner can write", 1, 1, 1, 9, accessWrite, false},
		{"owner can read", 1, 1, 1, 9, accessRead, false},
		{"group can read", 1, 1, 9, 1, accessRead, false},
		{"group cannot write", 1, 1, 9, 1, accessWrite, true},
		{"other cannot read", 1, 1, 9, 9, accessRead, true},
		{"other cannot write", 1, 1, 9, 9, accessWrite, true},
		{"owner who is also nominally in group uses owner bits", 1, 1, 1, 1, accessWrite, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := checkAccess(mode, c.uid, c.gid, c.callUid, c.callGid, c.mask)
			if c.wantErr {
				assert.ErrorIs(t, err, errs.ErrPermission)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckAccessGroupButNotOwnerUsesGroupBits(t *testing.T) {
	// mode 0060: owner denied read, group allowed read.
	assert.NoError(t, checkAccess(0060, 1, 1, 9, 1, accessRead), "group member expected read access")
	assert.Error(t, checkAccess(0060, 1, 1, 1, 1, accessRead), "owner with mode denying owner-read must still be denied, even though also group member")
}
