package migrate

import (
	"context"
	"sync"

	"github.com/portover/portover/internal/progress"
	"github.com/portover/portover/pkg/manifest"
)

// MockChannel is an in-memory Channel implementation for testing. Sends
// succeed instantly and report their byte/file counts synchronously through
// the registered counter callback, unless a failure is configured.
type MockChannel struct {
	mu        sync.Mutex
	counterFn func(int64, int)

	SentPaths []string        // successful SendFile calls, in order
	Flags     map[string]bool // default flags delivered to the peer

	// Gate, when non-nil, blocks every SendFile until a receive succeeds,
	// honoring context cancellation. Used to test cooperative cancel.
	Gate chan struct{}

	FailFiles     map[string]error // per-path SendFile failures
	FailSize      error
	FailFlag      error
	FailCompleted error

	SizeAnnounced  int64
	CompletedCalls int
	ResetCalls     int

	window   progress.Window
	windowOK bool
	path     string
}

var _ Channel = (*MockChannel)(nil)

// NewMockChannel returns a channel where every send succeeds.
func NewMockChannel() *MockChannel {
	return &MockChannel{
		Flags:     make(map[string]bool),
		FailFiles: make(map[string]error),
		path:      "mock0",
	}
}

func (c *MockChannel) SendFile(ctx context.Context, item *manifest.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	gate := c.Gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	err := c.FailFiles[item.Path]
	if err == nil {
		c.SentPaths = append(c.SentPaths, item.Path)
	}
	fn := c.counterFn
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if fn != nil {
		fn(item.Size, 1)
	}
	return nil
}

func (c *MockChannel) SendMigrationSize(ctx context.Context, totalBytes int64, fileCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSize != nil {
		return c.FailSize
	}
	c.SizeAnnounced = totalBytes
	return nil
}

func (c *MockChannel) SendDefaultFlag(ctx context.Context, key string, value bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailFlag != nil {
		return c.FailFlag
	}
	c.Flags[key] = value
	return nil
}

func (c *MockChannel) SendMigrationCompleted(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompletedCalls++
	return c.FailCompleted
}

func (c *MockChannel) SetCounterFunc(fn func(bytes int64, files int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counterFn = fn
}

// SetWindow stages the report the next ReportWindow call returns.
func (c *MockChannel) SetWindow(w progress.Window, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = w
	c.windowOK = ok
}

func (c *MockChannel) ReportWindow() (progress.Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window, c.windowOK
}

func (c *MockChannel) ResetReportWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCalls++
	c.window = progress.Window{}
	c.windowOK = false
}

func (c *MockChannel) ActivePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// RecordingSink is a ReportSink that records every call for assertions.
type RecordingSink struct {
	mu        sync.Mutex
	Started   bool
	TotalSize int64
	Migrated  []string
	Errors    []string
	Ended     bool
}

var _ ReportSink = (*RecordingSink)(nil)

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) RecordStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Started = true
}

func (s *RecordingSink) RecordTotalSize(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalSize = bytes
}

func (s *RecordingSink) RecordMigratedFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Migrated = append(s.Migrated, path)
}

func (s *RecordingSink) RecordError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, message)
}

func (s *RecordingSink) RecordEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ended = true
}

// SinkState is a plain copy of a RecordingSink's recorded calls.
type SinkState struct {
	Started   bool
	TotalSize int64
	Migrated  []string
	Errors    []string
	Ended     bool
}

// State returns a copy of the recorded state.
func (s *RecordingSink) State() SinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SinkState{
		Started:   s.Started,
		TotalSize: s.TotalSize,
		Migrated:  append([]string(nil), s.Migrated...),
		Errors:    append([]string(nil), s.Errors...),
		Ended:     s.Ended,
	}
}
