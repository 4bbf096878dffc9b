package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	localfs "github.com/hupe1980/cloudblob/internal/fs"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const tempSuffix = ".tmp"

// DiskCacheConfig holds configuration for the disk cache.
type DiskCacheConfig struct {
	// RootDir is the directory where cache files are stored.
	RootDir string
	// MaxSizeBytes is the maximum size of the cache in bytes.
	MaxSizeBytes int64
	// MaxConcurrentRemovals limits background file removal after eviction.
	// Defaults to 16 if <= 0.
	MaxConcurrentRemovals int64
	// FS defaults to the local file system.
	FS localfs.FileSystem
}

// FillFunc writes the content for a missing key into path. It returns false
// when the key does not exist upstream.
type FillFunc func(path string) (bool, error)

// DiskCache keeps whole blobs as files under RootDir, evicting the least
// recently used ones once MaxSizeBytes is exceeded.
type DiskCache struct {
	mu          sync.Mutex
	fs          localfs.FileSystem
	rootDir     string
	maxSize     int64
	currentSize int64

	// removeSem bounds background removal of evicted files.
	removeSem *semaphore.Weighted
	fetches   singleflight.Group

	items   map[string]*diskEntry
	lruHead *diskEntry
	lruTail *diskEntry
	wg      sync.WaitGroup

	// pins counts callers reading a key's file. Keys dropped from the
	// index while pinned are orphans; their file goes on the last release.
	pins    map[string]int
	orphans map[string]bool

	hits     atomic.Int64
	misses   atomic.Int64
	discards atomic.Int64
}

type diskEntry struct {
	key        string
	size       int64
	filePath   string
	next, prev *diskEntry
}

// NewDiskCache creates a disk cache and rebuilds its index from the files
// already present under RootDir. Leftover temporary files are removed.
func NewDiskCache(config DiskCacheConfig) (*DiskCache, error) {
	if config.FS == nil {
		config.FS = localfs.Default
	}
	if err := config.FS.MkdirAll(config.RootDir, 0o755); err != nil {
		return nil, err
	}

	maxRemovals := config.MaxConcurrentRemovals
	if maxRemovals <= 0 {
		maxRemovals = 16
	}

	c := &DiskCache{
		fs:        config.FS,
		rootDir:   config.RootDir,
		maxSize:   config.MaxSizeBytes,
		items:     make(map[string]*diskEntry),
		pins:      make(map[string]int),
		orphans:   make(map[string]bool),
		removeSem: semaphore.NewWeighted(maxRemovals),
	}

	c.scanExistingFiles()
	c.evictOverflow()

	return c, nil
}

func (c *DiskCache) scanExistingFiles() {
	_ = filepath.WalkDir(c.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // keep scanning past unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, tempSuffix) {
			_ = c.fs.Remove(path)
			return nil
		}
		key, err := url.PathUnescape(d.Name())
		if err != nil || c.pathFor(key) != path {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // file vanished during the scan
		}
		c.addToLRU(key, path, info.Size())
		return nil
	})
}

// pathFor spreads entries over two directory levels taken from the key so
// that no single directory grows unbounded. Keys are digests in practice.
func (c *DiskCache) pathFor(key string) string {
	name := strings.ReplaceAll(url.PathEscape(key), ".", "%2E")
	if len(name) < 4 {
		return filepath.Join(c.rootDir, "_", name)
	}
	return filepath.Join(c.rootDir, name[0:2], name[2:4], name)
}

// Get returns the path of a cached blob. The file is not pinned and may be
// evicted at any time; use Pin when the file is read after the call.
func (c *DiskCache) Get(key string) (string, bool) {
	c.mu.Lock()
	ent, ok := c.lookup(key)
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return ent.filePath, true
}

// Pin returns the path of a cached blob and keeps the file in place until
// release is called, even if the key is evicted or invalidated meanwhile.
// release is never nil and must be called once.
func (c *DiskCache) Pin(key string) (path string, release func(), ok bool) {
	c.mu.Lock()
	ent, ok := c.lookup(key)
	if ok {
		c.pins[key]++
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return "", noRelease, false
	}
	c.hits.Add(1)
	return ent.filePath, c.releaser(key), true
}

// must hold lock
func (c *DiskCache) lookup(key string) (*diskEntry, bool) {
	ent, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if _, err := c.fs.Stat(ent.filePath); err != nil {
		c.removeEntry(ent)
		return nil, false
	}
	c.moveToFront(ent)
	return ent, true
}

func noRelease() {}

func (c *DiskCache) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			if c.pins[key]--; c.pins[key] > 0 {
				return
			}
			delete(c.pins, key)
			if c.orphans[key] {
				delete(c.orphans, key)
				if _, ok := c.items[key]; !ok {
					c.discard(c.pathFor(key))
				}
			}
		})
	}
}

// Fetch returns the pinned cached path for key, calling fill to populate
// it on a miss. Concurrent fetches of the same key share one fill. release
// is never nil; when found it must be called once the caller is done with
// path.
func (c *DiskCache) Fetch(key string, fill FillFunc) (path string, release func(), found bool, err error) {
	for {
		if path, release, ok := c.Pin(key); ok {
			return path, release, true, nil
		}

		// Only the goroutine that runs the fill holds its pin.
		pinned := false
		v, err, _ := c.fetches.Do(key, func() (any, error) {
			found, err := c.fill(key, fill)
			pinned = found && err == nil
			return found, err
		})
		if err != nil {
			return "", noRelease, false, err
		}
		if !v.(bool) {
			return "", noRelease, false, nil
		}
		if pinned {
			return c.pathFor(key), c.releaser(key), true, nil
		}
		// Filled by another caller: pin it on the next pass.
	}
}

func (c *DiskCache) fill(key string, fill FillFunc) (bool, error) {
	dst := c.pathFor(key)
	if err := c.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}

	tmp, err := c.fs.CreateTemp(filepath.Dir(dst), "fetch-*"+tempSuffix)
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	_ = tmp.Close()

	committed := false
	defer func() {
		if !committed {
			_ = c.fs.Remove(tmpName)
		}
	}()

	found, err := fill(tmpName)
	if err != nil || !found {
		return false, err
	}

	info, err := c.fs.Stat(tmpName)
	if err != nil {
		return false, err
	}
	if err := c.admit(key, tmpName, dst, info.Size(), true); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

// PutFile stores a private copy of src under key, so later changes to src
// do not reach the cache.
func (c *DiskCache) PutFile(key, src string) (string, error) {
	return c.put(key, src, false)
}

// LinkFile is PutFile using a hard link when src is on the same device.
// The caller must not modify src afterwards, since the cache shares its
// content.
func (c *DiskCache) LinkFile(key, src string) (string, error) {
	return c.put(key, src, true)
}

func (c *DiskCache) put(key, src string, link bool) (string, error) {
	if path, ok := c.Get(key); ok {
		return path, nil
	}

	dst := c.pathFor(key)
	if err := c.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	tmp, err := c.fs.CreateTemp(filepath.Dir(dst), "put-*"+tempSuffix)
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	_ = tmp.Close()

	linked := false
	if link {
		_ = c.fs.Remove(tmpName)
		linked = c.fs.Link(src, tmpName) == nil
	}
	if !linked {
		if _, err := localfs.CopyFile(c.fs, src, tmpName); err != nil {
			_ = c.fs.Remove(tmpName)
			return "", err
		}
	}

	info, err := c.fs.Stat(tmpName)
	if err != nil {
		_ = c.fs.Remove(tmpName)
		return "", err
	}
	if err := c.admit(key, tmpName, dst, info.Size(), false); err != nil {
		_ = c.fs.Remove(tmpName)
		return "", err
	}
	return dst, nil
}

// admit moves the finished file src into place at dst and indexes it,
// pinning it for the caller when pin is set. The rename happens under the
// lock so a concurrent release cannot discard the fresh file.
func (c *DiskCache) admit(key, src, dst string, size int64, pin bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fs.Rename(src, dst); err != nil {
		return err
	}
	delete(c.orphans, key)
	if pin {
		c.pins[key]++
	}

	if ent, ok := c.items[key]; ok {
		c.currentSize += size - ent.size
		ent.size = size
		c.moveToFront(ent)
		return nil
	}

	for c.currentSize+size > c.maxSize {
		if c.lruTail == nil {
			// A single blob larger than the cache stays until the next admit.
			break
		}
		c.evictOne()
	}
	c.addToLRU(key, dst, size)
	return nil
}

// Invalidate drops key from the cache and removes its file once no
// caller has it pinned.
func (c *DiskCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.removeEntry(ent)
		c.dropFile(ent)
	}
}

// Clear drops every entry.
func (c *DiskCache) Clear() error {
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for key, ent := range c.items {
		if c.pins[key] > 0 {
			c.orphans[key] = true
			continue
		}
		if err := c.fs.Remove(ent.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	c.items = make(map[string]*diskEntry)
	c.lruHead, c.lruTail = nil, nil
	c.currentSize = 0
	return errors.Join(errs...)
}

// Close waits for background removals to complete.
func (c *DiskCache) Close() error {
	c.wg.Wait()
	return nil
}

func (c *DiskCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the bytes currently accounted to the cache.
func (c *DiskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Len returns the number of cached blobs.
func (c *DiskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *DiskCache) evictOverflow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.currentSize > c.maxSize && c.lruTail != nil {
		c.evictOne()
	}
}

// Internal LRU helpers (must hold lock)

func (c *DiskCache) addToLRU(key, path string, size int64) {
	ent := &diskEntry{
		key:      key,
		filePath: path,
		size:     size,
	}
	c.items[key] = ent
	c.currentSize += size

	if c.lruHead == nil {
		c.lruHead = ent
		c.lruTail = ent
	} else {
		ent.next = c.lruHead
		c.lruHead.prev = ent
		c.lruHead = ent
	}
}

func (c *DiskCache) moveToFront(ent *diskEntry) {
	if c.lruHead == ent {
		return
	}

	if ent.prev != nil {
		ent.prev.next = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	}
	if c.lruTail == ent {
		c.lruTail = ent.prev
	}

	ent.next = c.lruHead
	ent.prev = nil
	if c.lruHead != nil {
		c.lruHead.prev = ent
	}
	c.lruHead = ent
	if c.lruTail == nil {
		c.lruTail = ent
	}
}

func (c *DiskCache) removeEntry(ent *diskEntry) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		c.lruHead = ent.next
	}

	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		c.lruTail = ent.prev
	}
	ent.next, ent.prev = nil, nil

	delete(c.items, ent.key)
	c.currentSize -= ent.size
}

// evictOne drops the tail from the index and discards its file.
func (c *DiskCache) evictOne() {
	ent := c.lruTail
	if ent == nil {
		return
	}
	c.removeEntry(ent)
	c.dropFile(ent)
}

// dropFile discards the file of an entry that left the index. A pinned
// file stays until its last release.
func (c *DiskCache) dropFile(ent *diskEntry) {
	if c.pins[ent.key] > 0 {
		c.orphans[ent.key] = true
		return
	}
	c.discard(ent.filePath)
}

// discard renames path aside so a re-admission of the same key cannot race
// with its removal, then removes it in the background when a slot is free,
// otherwise inline.
func (c *DiskCache) discard(path string) {
	trash := fmt.Sprintf("%s.evict-%d%s", path, c.discards.Add(1), tempSuffix)
	if err := c.fs.Rename(path, trash); err != nil {
		return
	}

	if !c.removeSem.TryAcquire(1) {
		_ = c.fs.Remove(trash)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.removeSem.Release(1)
		_ = c.fs.Remove(trash)
	}()
}
