package testutil

import (
	"crypto/md5" //nolint:gosec // test fixtures
	"encoding/hex"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Bytes returns n pseudo-random bytes.
func (r *RNG) Bytes(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, n)
	_, _ = r.rand.Read(b)
	return b
}

// Blob is test content together with its MD5 key.
type Blob struct {
	Key  string
	Data []byte
}

// Blob returns n random bytes keyed by their MD5 digest.
func (r *RNG) Blob(n int) Blob {
	data := r.Bytes(n)
	return Blob{Key: MD5(data), Data: data}
}

// Blobs returns count blobs of size n with distinct keys.
func (r *RNG) Blobs(count, n int) []Blob {
	blobs := make([]Blob, 0, count)
	seen := make(map[string]bool, count)
	for len(blobs) < count {
		b := r.Blob(n)
		if seen[b.Key] {
			continue
		}
		seen[b.Key] = true
		blobs = append(blobs, b)
	}
	return blobs
}

// MD5 returns the lower-case hex MD5 of data.
func MD5(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// WriteFile writes data to a new file in a per-test directory and returns
// its path.
func WriteFile(tb testing.TB, data []byte) string {
	tb.Helper()
	f, err := os.CreateTemp(tb.TempDir(), "blob-*")
	if err != nil {
		tb.Fatalf("create temp file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		tb.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		tb.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

// ReadFile returns the content of path, failing the test on error.
func ReadFile(tb testing.TB, path string) []byte {
	tb.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("read %s: %v", path, err)
	}
	return data
}

// DestPath returns a not yet existing path in a per-test directory.
func DestPath(tb testing.TB) string {
	tb.Helper()
	return filepath.Join(tb.TempDir(), "dest")
}

// DirEntries returns the names in dir, failing the test on error.
func DirEntries(tb testing.TB, dir string) []string {
	tb.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		tb.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
