//go:build linux

package npheap

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    mapCounter    prometheus.Counter
//	    lockHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordLock(wait time.Duration, err error) {
//	    p.lockHistogram.Observe(wait.Seconds())
//	}
type MetricsCollector interface {
	// RecordLock is called after each lock command.
	// wait is the time spent blocked, err is nil if the lock was acquired.
	RecordLock(wait time.Duration, err error)

	// RecordUnlock is called after each unlock command.
	RecordUnlock()

	// RecordMap is called after each mapping request.
	// pages is the number of pages installed, err is nil if successful.
	RecordMap(duration time.Duration, pages int, err error)

	// RecordGetSize is called after each size query.
	RecordGetSize()

	// RecordDelete is called after each delete command.
	RecordDelete(found bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLock(time.Duration, error)     {}
func (NoopMetricsCollector) RecordUnlock()                       {}
func (NoopMetricsCollector) RecordMap(time.Duration, int, error) {}
func (NoopMetricsCollector) RecordGetSize()                      {}
func (NoopMetricsCollector) RecordDelete(bool)                   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	LockCount      atomic.Int64
	LockErrors     atomic.Int64
	LockWaitNanos  atomic.Int64
	UnlockCount    atomic.Int64
	MapCount       atomic.Int64
	MapErrors      atomic.Int64
	MapPages       atomic.Int64
	MapTotalNanos  atomic.Int64
	GetSizeCount   atomic.Int64
	DeleteCount    atomic.Int64
	DeleteNotFound atomic.Int64
}

// RecordLock implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLock(wait time.Duration, err error) {
	b.LockCount.Add(1)
	b.LockWaitNanos.Add(wait.Nanoseconds())
	if err != nil {
		b.LockErrors.Add(1)
	}
}

// RecordUnlock implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnlock() {
	b.UnlockCount.Add(1)
}

// RecordMap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMap(duration time.Duration, pages int, err error) {
	b.MapCount.Add(1)
	b.MapPages.Add(int64(pages))
	b.MapTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MapErrors.Add(1)
	}
}

// RecordGetSize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGetSize() {
	b.GetSizeCount.Add(1)
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(found bool) {
	b.DeleteCount.Add(1)
	if !found {
		b.DeleteNotFound.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		LockCount:      b.LockCount.Load(),
		LockErrors:     b.LockErrors.Load(),
		LockAvgNanos:   avg(b.LockWaitNanos.Load(), b.LockCount.Load()),
		UnlockCount:    b.UnlockCount.Load(),
		MapCount:       b.MapCount.Load(),
		MapErrors:      b.MapErrors.Load(),
		MapPages:       b.MapPages.Load(),
		MapAvgNanos:    avg(b.MapTotalNanos.Load(), b.MapCount.Load()),
		GetSizeCount:   b.GetSizeCount.Load(),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteNotFound: b.DeleteNotFound.Load(),
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
	LockCount      int64
	LockErrors     int64
	LockAvgNanos   int64
	UnlockCount    int64
	MapCount       int64
	MapErrors      int64
	MapPages       int64
	MapAvgNanos    int64
	GetSizeCount   int64
	DeleteCount    int64
	DeleteNotFound int64
}
