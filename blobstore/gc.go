package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// GCState is the phase of a garbage collection run.
type GCState int

const (
	// GCIdle is the state before the first ComputeToDelete.
	GCIdle GCState = iota
	// GCComputing is held while ComputeToDelete lists the bucket.
	GCComputing
	// GCMarking accepts Mark calls until the sweep.
	GCMarking
	// GCSweeping is held while RemoveUnmarkedBlobsAndUpdateStatus runs.
	GCSweeping
	// GCDone follows a sweep.
	GCDone
)

func (s GCState) String() string {
	switch s {
	case GCIdle:
		return "idle"
	case GCComputing:
		return "computing"
	case GCMarking:
		return "marking"
	case GCSweeping:
		return "sweeping"
	case GCDone:
		return "done"
	default:
		return fmt.Sprintf("GCState(%d)", int(s))
	}
}

// GCStatus reports blob counts and sizes of a run.
type GCStatus struct {
	// NumBinaries and SizeBinaries cover blobs still in use.
	NumBinaries  int64
	SizeBinaries int64
	// NumBinariesGC and SizeBinariesGC cover collected blobs.
	NumBinariesGC  int64
	SizeBinariesGC int64
}

// gcListPageSize is the listing page size used while computing candidates.
const gcListPageSize = 1000

// GarbageCollector removes blobs that no live document references.
//
// A run is ComputeToDelete, then Mark for every referenced key, then
// RemoveUnmarkedBlobsAndUpdateStatus. The caller must ensure no new blobs
// are written between ComputeToDelete and the sweep; the collector takes no
// lock on the bucket.
type GarbageCollector struct {
	store *RemoteStore

	mu         sync.Mutex
	state      GCState
	candidates map[string]int64
	status     GCStatus
	startTime  time.Time
}

func newGarbageCollector(store *RemoteStore) *GarbageCollector {
	return &GarbageCollector{store: store}
}

// ID identifies the collected location as "<kind>:<bucket>/<prefix>".
func (gc *GarbageCollector) ID() string {
	b := gc.store.backend
	return b.Kind() + ":" + b.Bucket() + "/" + gc.store.prefix
}

// State returns the current phase.
func (gc *GarbageCollector) State() GCState {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.state
}

// Status returns a snapshot of the counters.
func (gc *GarbageCollector) Status() GCStatus {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.status
}

// ComputeToDelete lists every digest-shaped key directly under the prefix
// and makes it a deletion candidate. Keys that are not digests of the
// configured algorithm, and objects in subdirectories of the prefix, are
// never candidates.
func (gc *GarbageCollector) ComputeToDelete(ctx context.Context) error {
	gc.mu.Lock()
	if gc.state == GCComputing || gc.state == GCSweeping {
		state := gc.state
		gc.mu.Unlock()
		return fmt.Errorf("%w: compute in state %s", ErrInvalidGCState, state)
	}
	prev := gc.state
	gc.state = GCComputing
	gc.mu.Unlock()

	candidates, status, err := gc.listCandidates(ctx)

	gc.mu.Lock()
	defer gc.mu.Unlock()
	if err != nil {
		gc.state = prev
		return opError("gc", gc.ID(), err)
	}
	gc.candidates = candidates
	gc.status = status
	gc.startTime = time.Now()
	gc.state = GCMarking

	gc.store.logger.InfoContext(ctx, "gc candidates computed",
		slog.String("gc", gc.ID()),
		slog.Int64("binaries", status.NumBinaries),
		slog.Int64("bytes", status.SizeBinaries))
	return nil
}

func (gc *GarbageCollector) listCandidates(ctx context.Context) (map[string]int64, GCStatus, error) {
	var (
		prefix     = gc.store.prefix
		alg        = gc.store.digest
		candidates = make(map[string]int64)
		status     GCStatus
		token      string
	)

	for {
		page, err := gc.store.backend.ListPage(ctx, ListQuery{
			Prefix:    prefix,
			Delimiter: PrefixSeparator,
			PageToken: token,
			PageSize:  gcListPageSize,
		})
		if err != nil {
			return nil, GCStatus{}, err
		}

		for _, obj := range page.Objects {
			key := strings.TrimPrefix(obj.Name, prefix)
			if strings.Contains(key, PrefixSeparator) || !alg.IsValid(key) {
				continue
			}
			if _, dup := candidates[key]; dup {
				continue
			}
			candidates[key] = obj.Size
			status.NumBinaries++
			status.SizeBinaries += obj.Size
		}

		if page.NextPageToken == "" {
			return candidates, status, nil
		}
		token = page.NextPageToken
	}
}

// Mark records key as referenced.
func (gc *GarbageCollector) Mark(key string) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if gc.state != GCMarking {
		return fmt.Errorf("%w: mark in state %s", ErrInvalidGCState, gc.state)
	}
	delete(gc.candidates, key)
	return nil
}

// UnmarkedBlobs returns the current candidates in lexical order.
func (gc *GarbageCollector) UnmarkedBlobs() ([]string, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if gc.state != GCMarking {
		return nil, fmt.Errorf("%w: list in state %s", ErrInvalidGCState, gc.state)
	}
	return gc.sortedCandidates(), nil
}

// must hold lock
func (gc *GarbageCollector) sortedCandidates() []string {
	keys := make([]string, 0, len(gc.candidates))
	for key := range gc.candidates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// RemoveUnmarkedBlobsAndUpdateStatus sweeps the unmarked candidates. Each
// candidate is looked up again; keys already gone are skipped. Present keys
// move from the in-use to the collected counters and are deleted when
// del is set. Delete failures do not stop the sweep and are returned joined.
func (gc *GarbageCollector) RemoveUnmarkedBlobsAndUpdateStatus(ctx context.Context, del bool) (GCStatus, error) {
	gc.mu.Lock()
	if gc.state != GCMarking {
		state := gc.state
		gc.mu.Unlock()
		return GCStatus{}, fmt.Errorf("%w: sweep in state %s", ErrInvalidGCState, state)
	}
	keys := gc.sortedCandidates()
	status := gc.status
	gc.state = GCSweeping
	gc.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		name := gc.store.ObjectName(key)
		attrs, err := gc.store.backend.Attrs(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, opError("gc", key, err))
			continue
		}

		status.NumBinaries--
		status.SizeBinaries -= attrs.Size
		status.NumBinariesGC++
		status.SizeBinariesGC += attrs.Size

		if !del {
			continue
		}
		if err := gc.store.deletes.AcquireOp(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		if err := gc.store.backend.Delete(ctx, name); err != nil {
			errs = append(errs, opError("gc", key, err))
		}
	}

	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.status = status
	gc.candidates = nil
	gc.state = GCDone

	gc.store.logger.InfoContext(ctx, "gc sweep finished",
		slog.String("gc", gc.ID()),
		slog.Bool("delete", del),
		slog.Int64("collected", status.NumBinariesGC),
		slog.Int64("collected_bytes", status.SizeBinariesGC),
		slog.Duration("elapsed", time.Since(gc.startTime)))

	return status, errors.Join(errs...)
}
