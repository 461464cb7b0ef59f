package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Reader is the read side of a Collector, as used by presenters.
type Reader interface {
	Snapshot() Snapshot
}

// Collector tracks run statistics using lock-free atomic counters. The
// orchestrator runs sequentially, but verification and retry workers update
// counters concurrently.
type Collector struct {
	dirsTotal       atomic.Int64
	dirsCompleted   atomic.Int64
	dirsSkipped     atomic.Int64
	dirsFailed      atomic.Int64
	filesVerified   atomic.Int64
	filesMismatched atomic.Int64
	discrepancies   atomic.Int64
	filesRetried    atomic.Int64
	retrySkipped    atomic.Int64
	retryFailed     atomic.Int64
	bytesRetried    atomic.Int64
	startTime       time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	DirsTotal       int64
	DirsCompleted   int64
	DirsSkipped     int64
	DirsFailed      int64
	FilesVerified   int64
	FilesMismatched int64
	Discrepancies   int64
	FilesRetried    int64
	RetrySkipped    int64
	RetryFailed     int64
	BytesRetried    int64
	Elapsed         time.Duration
}

// SetDirsTotal records the size of the working set.
func (c *Collector) SetDirsTotal(n int64) { c.dirsTotal.Store(n) }

func (c *Collector) AddDirsCompleted(n int64)   { c.dirsCompleted.Add(n) }
func (c *Collector) AddDirsSkipped(n int64)     { c.dirsSkipped.Add(n) }
func (c *Collector) AddDirsFailed(n int64)      { c.dirsFailed.Add(n) }
func (c *Collector) AddFilesVerified(n int64)   { c.filesVerified.Add(n) }
func (c *Collector) AddFilesMismatched(n int64) { c.filesMismatched.Add(n) }
func (c *Collector) AddDiscrepancies(n int64)   { c.discrepancies.Add(n) }
func (c *Collector) AddFilesRetried(n int64)    { c.filesRetried.Add(n) }
func (c *Collector) AddRetrySkipped(n int64)    { c.retrySkipped.Add(n) }
func (c *Collector) AddRetryFailed(n int64)     { c.retryFailed.Add(n) }
func (c *Collector) AddBytesRetried(n int64)    { c.bytesRetried.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		DirsTotal:       c.dirsTotal.Load(),
		DirsCompleted:   c.dirsCompleted.Load(),
		DirsSkipped:     c.dirsSkipped.Load(),
		DirsFailed:      c.dirsFailed.Load(),
		FilesVerified:   c.filesVerified.Load(),
		FilesMismatched: c.filesMismatched.Load(),
		Discrepancies:   c.discrepancies.Load(),
		FilesRetried:    c.filesRetried.Load(),
		RetrySkipped:    c.retrySkipped.Load(),
		RetryFailed:     c.retryFailed.Load(),
		BytesRetried:    c.bytesRetried.Load(),
		Elapsed:         c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"dirs=%d completed=%d skipped=%d failed=%d verified=%d mismatched=%d discrepancies=%d retried=%d",
		s.DirsTotal, s.DirsCompleted, s.DirsSkipped, s.DirsFailed,
		s.FilesVerified, s.FilesMismatched, s.Discrepancies, s.FilesRetried,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
