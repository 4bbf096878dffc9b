package cloudblob

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordWrite is called after each blob write.
	// size is the number of bytes written, err is nil if successful.
	RecordWrite(size int64, duration time.Duration, err error)

	// RecordRead is called after each blob read.
	// found is false when the key did not exist.
	RecordRead(found bool, duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration, err error)

	// RecordCopy is called after each copy or move between providers.
	RecordCopy(move bool, duration time.Duration, err error)

	// RecordGC is called after each sweep with the number of binaries and
	// bytes removed.
	RecordGC(removed, removedBytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordWrite(int64, time.Duration, error)     {}
func (NoopMetricsCollector) RecordRead(bool, time.Duration, error)       {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)           {}
func (NoopMetricsCollector) RecordCopy(bool, time.Duration, error)       {}
func (NoopMetricsCollector) RecordGC(int64, int64, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	WriteCount      atomic.Int64
	WriteErrors     atomic.Int64
	WriteBytes      atomic.Int64
	WriteTotalNanos atomic.Int64
	ReadCount       atomic.Int64
	ReadMisses      atomic.Int64
	ReadErrors      atomic.Int64
	ReadTotalNanos  atomic.Int64
	DeleteCount     atomic.Int64
	DeleteErrors    atomic.Int64
	CopyCount       atomic.Int64
	MoveCount       atomic.Int64
	CopyErrors      atomic.Int64
	GCRuns          atomic.Int64
	GCErrors        atomic.Int64
	GCRemoved       atomic.Int64
	GCRemovedBytes  atomic.Int64
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(size int64, duration time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WriteErrors.Add(1)
		return
	}
	b.WriteBytes.Add(size)
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(found bool, duration time.Duration, err error) {
	b.ReadCount.Add(1)
	b.ReadTotalNanos.Add(duration.Nanoseconds())
	switch {
	case err != nil:
		b.ReadErrors.Add(1)
	case !found:
		b.ReadMisses.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordCopy implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCopy(move bool, duration time.Duration, err error) {
	if move {
		b.MoveCount.Add(1)
	} else {
		b.CopyCount.Add(1)
	}
	if err != nil {
		b.CopyErrors.Add(1)
	}
}

// RecordGC implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGC(removed, removedBytes int64, duration time.Duration, err error) {
	b.GCRuns.Add(1)
	b.GCRemoved.Add(removed)
	b.GCRemovedBytes.Add(removedBytes)
	if err != nil {
		b.GCErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		WriteCount:     b.WriteCount.Load(),
		WriteErrors:    b.WriteErrors.Load(),
		WriteBytes:     b.WriteBytes.Load(),
		WriteAvgNanos:  avg(b.WriteTotalNanos.Load(), b.WriteCount.Load()),
		ReadCount:      b.ReadCount.Load(),
		ReadMisses:     b.ReadMisses.Load(),
		ReadErrors:     b.ReadErrors.Load(),
		ReadAvgNanos:   avg(b.ReadTotalNanos.Load(), b.ReadCount.Load()),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		CopyCount:      b.CopyCount.Load(),
		MoveCount:      b.MoveCount.Load(),
		CopyErrors:     b.CopyErrors.Load(),
		GCRuns:         b.GCRuns.Load(),
		GCErrors:       b.GCErrors.Load(),
		GCRemoved:      b.GCRemoved.Load(),
		GCRemovedBytes: b.GCRemovedBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	WriteCount     int64
	WriteErrors    int64
	WriteBytes     int64
	WriteAvgNanos  int64
	ReadCount      int64
	ReadMisses     int64
	ReadErrors     int64
	ReadAvgNanos   int64
	DeleteCount    int64
	DeleteErrors   int64
	CopyCount      int64
	MoveCount      int64
	CopyErrors     int64
	GCRuns         int64
	GCErrors       int64
	GCRemoved      int64
	GCRemovedBytes int64
}
