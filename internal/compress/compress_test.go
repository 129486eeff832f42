package compress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"none", "flate", "zstd"} {
		t.Run(name, func(t *testing.T) {
			require.True(t, Valid(name))
			codec, err := Lookup(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.Name())

			original := []byte("the quick brown fox jumps over the lazy dog, repeated: the quick brown fox jumps over the lazy dog")
			compressed, err := codec.Compress(original)
			require.NoError(t, err)

			plain, err := codec.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, original, plain)
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	assert.False(t, Valid("lz4"))
	_, err := Lookup("lz4")
	assert.Error(t, err)
}

func TestEmptyInput(t *testing.T) {
	for _, name := range []string{"none", "flate", "zstd"} {
		codec, err := Lookup(name)
		require.NoError(t, err)

		compressed, err := codec.Compress(nil)
		require.NoError(t, err)
		plain, err := codec.Decompress(compressed)
		require.NoError(t, err)
		assert.Empty(t, plain)
	}
}
