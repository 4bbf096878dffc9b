package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillWith(data []byte) FillFunc {
	return func(path string) (bool, error) {
		return true, os.WriteFile(path, data, 0o644)
	}
}

func TestDiskCache(t *testing.T) {
	tmpDir := t.TempDir()
	c, err := NewDiskCache(DiskCacheConfig{RootDir: tmpDir, MaxSizeBytes: 1024})
	require.NoError(t, err)
	defer c.Close()

	key1 := "0123456789abcdef0123456789abcdef"
	path1, release1, found, err := c.Fetch(key1, fillWith(make([]byte, 400)))
	require.NoError(t, err)
	require.True(t, found)
	release1()
	assert.Equal(t, filepath.Join(tmpDir, "01", "23", key1), path1)
	assert.FileExists(t, path1)

	got, ok := c.Get(key1)
	assert.True(t, ok)
	assert.Equal(t, path1, got)

	key2 := "1123456789abcdef0123456789abcdef"
	key3 := "2123456789abcdef0123456789abcdef"
	_, release2, _, err := c.Fetch(key2, fillWith(make([]byte, 400)))
	require.NoError(t, err)
	release2()
	_, release3, _, err := c.Fetch(key3, fillWith(make([]byte, 400)))
	require.NoError(t, err)
	release3()

	// 1200 bytes > 1024: key1 is the least recently used.
	_, ok = c.Get(key1)
	assert.False(t, ok, "key1 should be evicted")
	assert.NoFileExists(t, path1)

	_, ok = c.Get(key2)
	assert.True(t, ok)
	_, ok = c.Get(key3)
	assert.True(t, ok)
	assert.Equal(t, int64(800), c.Size())

	hits, misses := c.Stats()
	assert.Equal(t, int64(3), hits)
	assert.Equal(t, int64(4), misses)
}

func TestDiskCache_FetchMissing(t *testing.T) {
	tmpDir := t.TempDir()
	c, err := NewDiskCache(DiskCacheConfig{RootDir: tmpDir, MaxSizeBytes: 1024})
	require.NoError(t, err)

	_, release, found, err := c.Fetch("absent", func(string) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.False(t, found)
	require.NotNil(t, release)
	release()
	assert.Equal(t, 0, c.Len())

	boom := errors.New("boom")
	_, _, _, err = c.Fetch("failing", func(path string) (bool, error) {
		_ = os.WriteFile(path, []byte("partial"), 0o644)
		return false, boom
	})
	assert.ErrorIs(t, err, boom)

	// No temporary files left behind.
	_ = filepath.Walk(tmpDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			t.Errorf("unexpected file %s", path)
		}
		return nil
	})
}

func TestDiskCache_FetchSingleFlight(t *testing.T) {
	c, err := NewDiskCache(DiskCacheConfig{RootDir: t.TempDir(), MaxSizeBytes: 1 << 20})
	require.NoError(t, err)

	var calls atomic.Int32
	release := make(chan struct{})
	fill := func(path string) (bool, error) {
		calls.Add(1)
		<-release
		return true, os.WriteFile(path, []byte("data"), 0o644)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, done, found, err := c.Fetch("shared-key", fill)
			assert.NoError(t, err)
			assert.True(t, found)
			done()
		}()
	}
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(4), c.Size())
}

func TestDiskCache_PutFileAndReload(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	config := DiskCacheConfig{RootDir: tmpDir, MaxSizeBytes: 10000}
	{
		c, err := NewDiskCache(config)
		require.NoError(t, err)
		path, err := c.PutFile("abcdef", src)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
		require.NoError(t, c.Close())
	}

	// Source removal must not affect the cached copy.
	require.NoError(t, os.Remove(src))

	// Leftover temporary files are swept on open.
	stray := filepath.Join(tmpDir, "ab", "cd", "fetch-1.tmp")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o644))

	c, err := NewDiskCache(config)
	require.NoError(t, err)
	path, ok := c.Get("abcdef")
	require.True(t, ok)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), c.Size())
	assert.NoFileExists(t, stray)
}

func TestDiskCache_InvalidateAndClear(t *testing.T) {
	c, err := NewDiskCache(DiskCacheConfig{RootDir: t.TempDir(), MaxSizeBytes: 10000})
	require.NoError(t, err)

	p1, release1, _, err := c.Fetch("key-one", fillWith([]byte("1")))
	require.NoError(t, err)
	release1()
	p2, release2, _, err := c.Fetch("key-two", fillWith([]byte("22")))
	require.NoError(t, err)
	release2()

	c.Invalidate("key-one")
	assert.NoFileExists(t, p1)
	_, ok := c.Get("key-one")
	assert.False(t, ok)
	assert.Equal(t, int64(2), c.Size())

	require.NoError(t, c.Clear())
	assert.NoFileExists(t, p2)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Size())
}

func TestDiskCache_UnsafeKeys(t *testing.T) {
	tmpDir := t.TempDir()
	c, err := NewDiskCache(DiskCacheConfig{RootDir: tmpDir, MaxSizeBytes: 10000})
	require.NoError(t, err)

	for _, key := range []string{"..", "../../etc/passwd", "a/b"} {
		path, release, found, err := c.Fetch(key, fillWith([]byte("x")))
		require.NoError(t, err)
		require.True(t, found)
		release()
		rel, err := filepath.Rel(tmpDir, path)
		require.NoError(t, err)
		assert.NotContains(t, filepath.ToSlash(rel), "../", key)
	}
}

func TestDiskCache_PinSurvivesEviction(t *testing.T) {
	// Room for one blob only.
	c, err := NewDiskCache(DiskCacheConfig{RootDir: t.TempDir(), MaxSizeBytes: 15})
	require.NoError(t, err)
	defer c.Close()

	keyX := "0123456789abcdef0123456789abcdef"
	keyY := "fedcba9876543210fedcba9876543210"

	pathX, releaseX, found, err := c.Fetch(keyX, fillWith([]byte("xxxxxxxxxx")))
	require.NoError(t, err)
	require.True(t, found)

	pathY, releaseY, found, err := c.Fetch(keyY, fillWith([]byte("yyyyyyyyyy")))
	require.NoError(t, err)
	require.True(t, found)

	// X left the index but its reader still holds the file.
	_, ok := c.Get(keyX)
	assert.False(t, ok)
	data, err := os.ReadFile(pathX)
	require.NoError(t, err)
	assert.Equal(t, "xxxxxxxxxx", string(data))
	assert.Equal(t, int64(10), c.Size())

	releaseX()
	releaseX() // release is idempotent
	require.NoError(t, c.Close())
	assert.NoFileExists(t, pathX)

	data, err = os.ReadFile(pathY)
	require.NoError(t, err)
	assert.Equal(t, "yyyyyyyyyy", string(data))
	releaseY()
}

func TestDiskCache_PinSurvivesInvalidateAndClear(t *testing.T) {
	c, err := NewDiskCache(DiskCacheConfig{RootDir: t.TempDir(), MaxSizeBytes: 10000})
	require.NoError(t, err)

	_, err = c.PutFile("key-one", writeTemp(t, "one"))
	require.NoError(t, err)
	_, err = c.PutFile("key-two", writeTemp(t, "two"))
	require.NoError(t, err)

	p1, release1, ok := c.Pin("key-one")
	require.True(t, ok)
	p2, release2, ok := c.Pin("key-two")
	require.True(t, ok)

	c.Invalidate("key-one")
	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
	assert.FileExists(t, p1)
	assert.FileExists(t, p2)

	release1()
	release2()
	require.NoError(t, c.Close())
	assert.NoFileExists(t, p1)
	assert.NoFileExists(t, p2)
}

func TestDiskCache_ReadmitWhilePinned(t *testing.T) {
	c, err := NewDiskCache(DiskCacheConfig{RootDir: t.TempDir(), MaxSizeBytes: 10000})
	require.NoError(t, err)

	path, release, found, err := c.Fetch("key", fillWith([]byte("data")))
	require.NoError(t, err)
	require.True(t, found)

	c.Invalidate("key")
	_, err = c.PutFile("key", writeTemp(t, "data"))
	require.NoError(t, err)

	// The last release of the old pin must not drop the re-admitted file.
	release()
	require.NoError(t, c.Close())
	got, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, path, got)
	assert.FileExists(t, path)
}

func TestDiskCache_PutFileCopiesSource(t *testing.T) {
	c, err := NewDiskCache(DiskCacheConfig{RootDir: t.TempDir(), MaxSizeBytes: 10000})
	require.NoError(t, err)

	src := writeTemp(t, "original")
	path, err := c.PutFile("copied", src)
	require.NoError(t, err)

	// Rewriting the source in place must not reach the cache.
	require.NoError(t, os.WriteFile(src, []byte("tampered"), 0o644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	linked := writeTemp(t, "shared")
	path, err = c.LinkFile("linked", linked)
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(data))
	assert.Equal(t, int64(len("original")+len("shared")), c.Size())
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
