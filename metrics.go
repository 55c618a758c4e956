package raggo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordIngest is called after each ingest operation.
	// chunks is the number of chunks produced, duration is the total time
	// taken, err is nil if successful.
	RecordIngest(chunks int, duration time.Duration, err error)

	// RecordRetrieve is called after each retrieval.
	// topK is the number of results requested, results the number returned.
	RecordRetrieve(topK, results int, duration time.Duration, err error)

	// RecordSnapshot is called after each save of the paired stores.
	RecordSnapshot(duration time.Duration, err error)

	// RecordRecovery is called after startup recovery.
	// entries is the number of WAL entries replayed.
	RecordRecovery(entries int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordRetrieve(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, error)           {}
func (NoopMetricsCollector) RecordRecovery(int, time.Duration, error)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestCount        atomic.Int64
	IngestErrors       atomic.Int64
	IngestChunks       atomic.Int64
	IngestTotalNanos   atomic.Int64
	RetrieveCount      atomic.Int64
	RetrieveErrors     atomic.Int64
	RetrieveResults    atomic.Int64
	RetrieveTotalNanos atomic.Int64
	SnapshotCount      atomic.Int64
	SnapshotErrors     atomic.Int64
	RecoveryCount      atomic.Int64
	RecoveryEntries    atomic.Int64
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(chunks int, duration time.Duration, err error) {
	b.IngestCount.Add(1)
	b.IngestChunks.Add(int64(chunks))
	b.IngestTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.IngestErrors.Add(1)
	}
}

// RecordRetrieve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRetrieve(topK, results int, duration time.Duration, err error) {
	b.RetrieveCount.Add(1)
	b.RetrieveResults.Add(int64(results))
	b.RetrieveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RetrieveErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// RecordRecovery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRecovery(entries int, duration time.Duration, err error) {
	b.RecoveryCount.Add(1)
	b.RecoveryEntries.Add(int64(entries))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		IngestCount:     b.IngestCount.Load(),
		IngestErrors:    b.IngestErrors.Load(),
		IngestChunks:    b.IngestChunks.Load(),
		IngestAvgNanos:  avg(b.IngestTotalNanos.Load(), b.IngestCount.Load()),
		RetrieveCount:   b.RetrieveCount.Load(),
		RetrieveErrors:  b.RetrieveErrors.Load(),
		RetrieveResults: b.RetrieveResults.Load(),
		RetrieveAvgNanos: avg(
			b.RetrieveTotalNanos.Load(), b.RetrieveCount.Load()),
		SnapshotCount:   b.SnapshotCount.Load(),
		SnapshotErrors:  b.SnapshotErrors.Load(),
		RecoveryCount:   b.RecoveryCount.Load(),
		RecoveryEntries: b.RecoveryEntries.Load(),
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
	IngestCount      int64
	IngestErrors     int64
	IngestChunks     int64
	IngestAvgNanos   int64
	RetrieveCount    int64
	RetrieveErrors   int64
	RetrieveResults  int64
	RetrieveAvgNanos int64
	SnapshotCount    int64
	SnapshotErrors   int64
	RecoveryCount    int64
	RecoveryEntries  int64
}
