package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryKind is the Kind of a MemoryBackend unless overridden.
const MemoryKind = "memory"

// MemoryStats counts the calls served by a MemoryBackend.
type MemoryStats struct {
	Uploads       int
	UploadedBytes int64
	Chunks        int
	Copies        int
	Deletes       int
	Lists         int
}

// MemoryBackend is an in-memory Backend for testing.
// Thread-safe for concurrent reads and writes.
type MemoryBackend struct {
	mu      sync.RWMutex
	kind    string
	bucket  string
	objects map[string]memoryObject
	gen     int64
	stats   MemoryStats
	faults  map[string]error
}

type memoryObject struct {
	data       []byte
	generation int64
	updated    time.Time
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithMemoryKind overrides the backend kind, e.g. to simulate a second
// service for which direct copies are impossible.
func WithMemoryKind(kind string) MemoryOption {
	return func(m *MemoryBackend) {
		m.kind = kind
	}
}

// NewMemoryBackend creates an empty in-memory bucket.
func NewMemoryBackend(bucket string, optFns ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		kind:    MemoryKind,
		bucket:  bucket,
		objects: make(map[string]memoryObject),
		faults:  make(map[string]error),
	}
	for _, fn := range optFns {
		fn(m)
	}
	return m
}

func (m *MemoryBackend) Kind() string   { return m.kind }
func (m *MemoryBackend) Bucket() string { return m.bucket }

// InjectFault makes the next call of op ("attrs", "read", "upload", "copy",
// "delete", "list") fail with err.
func (m *MemoryBackend) InjectFault(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = err
}

// must hold lock
func (m *MemoryBackend) takeFault(op string) error {
	err, ok := m.faults[op]
	if !ok {
		return nil
	}
	delete(m.faults, op)
	return err
}

// Stats returns a snapshot of the call counters.
func (m *MemoryBackend) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Put stores data under name without going through Upload.
func (m *MemoryBackend) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(name, bytes.Clone(data))
}

// Names returns every object name in lexical order.
func (m *MemoryBackend) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// must hold write lock
func (m *MemoryBackend) store(name string, data []byte) {
	m.gen++
	m.objects[name] = memoryObject{data: data, generation: m.gen, updated: time.Now()}
}

func (m *MemoryBackend) Attrs(_ context.Context, name string) (ObjectAttrs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFault("attrs"); err != nil {
		return ObjectAttrs{}, err
	}
	obj, ok := m.objects[name]
	if !ok {
		return ObjectAttrs{}, fmt.Errorf("memory: %s: %w", name, ErrNotFound)
	}
	return obj.attrs(name), nil
}

func (o memoryObject) attrs(name string) ObjectAttrs {
	return ObjectAttrs{
		Name:       name,
		Size:       int64(len(o.data)),
		Generation: o.generation,
		Updated:    o.updated,
	}
}

func (m *MemoryBackend) NewRangeReader(_ context.Context, name string, off, length int64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFault("read"); err != nil {
		return nil, err
	}
	obj, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("memory: %s: %w", name, ErrNotFound)
	}

	size := int64(len(obj.data))
	if off < 0 || off > size {
		return nil, fmt.Errorf("memory: %s: offset %d out of range", name, off)
	}
	end := size
	if length >= 0 && off+length < size {
		end = off + length
	}
	// Stored slices are never mutated, so sharing them is safe.
	return io.NopCloser(bytes.NewReader(obj.data[off:end])), nil
}

// Upload reads r in ChunkSize pieces the way a resumable upload would.
func (m *MemoryBackend) Upload(_ context.Context, name string, r io.Reader, opts UploadOptions) error {
	m.mu.Lock()
	err := m.takeFault("upload")
	m.mu.Unlock()
	if err != nil {
		return err
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var buf bytes.Buffer
	chunks := 0
	for {
		n, err := io.CopyN(&buf, r, int64(chunkSize))
		if n > 0 {
			chunks++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if opts.Size >= 0 && opts.Size != int64(buf.Len()) {
		return fmt.Errorf("memory: %s: short upload %d of %d bytes", name, buf.Len(), opts.Size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(name, buf.Bytes())
	m.stats.Uploads++
	m.stats.UploadedBytes += int64(buf.Len())
	m.stats.Chunks += chunks
	return nil
}

func (m *MemoryBackend) Copy(_ context.Context, src Backend, srcName, dstName string, pre Precondition) error {
	from, ok := src.(*MemoryBackend)
	if !ok {
		return fmt.Errorf("memory: copy from %s: %w", src.Kind(), ErrUnsupportedCopy)
	}

	from.mu.RLock()
	obj, found := from.objects[srcName]
	from.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFault("copy"); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("memory: %s: %w", srcName, ErrNotFound)
	}
	cur, exists := m.objects[dstName]
	if err := pre.Check(cur.attrs(dstName), exists); err != nil {
		return fmt.Errorf("memory: %s: %w", dstName, err)
	}
	m.store(dstName, obj.data)
	m.stats.Copies++
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFault("delete"); err != nil {
		return err
	}
	if _, ok := m.objects[name]; ok {
		delete(m.objects, name)
		m.stats.Deletes++
	}
	return nil
}

// ListPage lists names in lexical order. The page token is the last name
// of the previous page, so listings stay stable under concurrent deletes.
func (m *MemoryBackend) ListPage(_ context.Context, q ListQuery) (ListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFault("list"); err != nil {
		return ListPage{}, err
	}
	m.stats.Lists++

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		if !strings.HasPrefix(name, q.Prefix) || name <= q.PageToken {
			continue
		}
		if q.Delimiter != "" && strings.Contains(name[len(q.Prefix):], q.Delimiter) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var page ListPage
	if len(names) > pageSize {
		names = names[:pageSize]
		page.NextPageToken = names[len(names)-1]
	}
	for _, name := range names {
		page.Objects = append(page.Objects, m.objects[name].attrs(name))
	}
	return page, nil
}
