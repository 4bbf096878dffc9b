package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlob(t *testing.T) {
	rng := NewRNG(4711)

	b := rng.Blob(64)
	assert.Len(t, b.Data, 64)
	assert.Equal(t, MD5(b.Data), b.Key)
	assert.Len(t, b.Key, 32)
}

func TestBlobsDistinct(t *testing.T) {
	blobs := NewRNG(4711).Blobs(50, 8)

	seen := map[string]bool{}
	for _, b := range blobs {
		assert.False(t, seen[b.Key])
		seen[b.Key] = true
	}
	assert.Len(t, seen, 50)
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	first := rng.Bytes(16)
	rng.Reset()
	assert.Equal(t, first, rng.Bytes(16))
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestFiles(t *testing.T) {
	path := WriteFile(t, []byte("hello"))
	assert.Equal(t, []byte("hello"), ReadFile(t, path))
	assert.NotEmpty(t, DestPath(t))
}
