package hashfunc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownFunctions(t *testing.T) {
	for _, name := range []string{"sha1", "sha256"} {
		t.Run(name, func(t *testing.T) {
			require.True(t, Valid(name))
			fn, err := Lookup(name)
			require.NoError(t, err)

			a := fn([]byte("hello"))
			b := fn([]byte("hello"))
			c := fn([]byte("world"))
			assert.Equal(t, a, b, "digest must be deterministic")
			assert.NotEqual(t, a, c, "different input should (almost certainly) digest differently")
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	assert.False(t, Valid("md5"))
	_, err := Lookup("md5")
	assert.Error(t, err)
}
