package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status is a point-in-time snapshot of run progress.
type Status struct {
	BytesSent  int64
	FilesSent  int
	Total      int64
	TotalFiles int
	Fraction   float64 // [0, 1], capped at 0.99 until completion is confirmed
	Percent    string  // integer percentage, "100%" only after confirmation
	StartedAt  time.Time
	Complete   bool
}

// maxFraction caps the fraction until the peer confirms completion, so the
// display never reads done while the completion signal is still in flight.
const maxFraction = 0.99

// Tracker owns the byte and file counters for one run.
//
// Increments arrive asynchronously from the transfer channel's notification
// stream, which may run on a different goroutine than the orchestrator's
// task; a single mutex is the serialization point. The displayed percentage
// is monotonically non-decreasing for the life of a run and reaches 100 if
// and only if Complete was called.
type Tracker struct {
	mu         sync.Mutex
	total      int64
	totalFiles int
	bytes      int64
	files      int
	percent    int // high-water mark of the displayed percentage
	complete   bool
	startedAt  time.Time
	now        func() time.Time
}

// NewTracker returns a tracker with the real clock.
func NewTracker() *Tracker {
	return NewTrackerWithNow(time.Now)
}

// NewTrackerWithNow returns a tracker with a custom time source (for tests).
func NewTrackerWithNow(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Start resets the tracker for a new run. offset carries the bytes and file
// count already accounted for by a resumed manifest, plus the start bias.
func (t *Tracker) Start(total int64, totalFiles int, offsetBytes int64, offsetFiles int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
	t.totalFiles = totalFiles
	t.bytes = offsetBytes
	t.files = offsetFiles
	t.percent = 0
	t.complete = false
	t.startedAt = t.now()
	t.percent = t.rawPercentLocked()
}

// Add increments the counters. Negative increments are ignored: the byte
// counter is monotonically non-decreasing within a run.
func (t *Tracker) Add(bytes int64, files int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bytes > 0 {
		t.bytes += bytes
	}
	if files > 0 {
		t.files += files
	}
	if p := t.rawPercentLocked(); p > t.percent {
		t.percent = p
	}
}

// Complete pins the fraction to exactly 1.0. It is called once, on the
// confirmed completion signal, and is irreversible for the run.
func (t *Tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.complete = true
}

// Remaining returns the bytes and files still outstanding.
func (t *Tracker) Remaining() (int64, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	remBytes := t.total - t.bytes
	if remBytes < 0 {
		remBytes = 0
	}
	remFiles := t.totalFiles - t.files
	if remFiles < 0 {
		remFiles = 0
	}
	return remBytes, remFiles
}

// Snapshot returns the current progress status.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Status{
		BytesSent:  t.bytes,
		FilesSent:  t.files,
		Total:      t.total,
		TotalFiles: t.totalFiles,
		StartedAt:  t.startedAt,
		Complete:   t.complete,
	}
	if t.complete {
		s.Fraction = 1.0
		s.Percent = "100%"
		return s
	}
	if t.total > 0 {
		s.Fraction = float64(t.bytes) / float64(t.total)
		if s.Fraction > maxFraction {
			s.Fraction = maxFraction
		}
	}
	s.Percent = fmt.Sprintf("%d%%", t.percent)
	return s
}

// rawPercentLocked computes min(99, floor(bytes*100/total)).
func (t *Tracker) rawPercentLocked() int {
	if t.total <= 0 {
		return 0
	}
	p := int(t.bytes * 100 / t.total)
	if p > 99 {
		p = 99
	}
	if p < 0 {
		p = 0
	}
	return p
}
