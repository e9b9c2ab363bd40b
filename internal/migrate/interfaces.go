package migrate

import (
	"context"

	"github.com/portover/portover/internal/progress"
	"github.com/portover/portover/pkg/manifest"
)

// SkipRebootKey is the preference default sent to the peer when no
// preference items are migrated, telling it to skip its post-migration
// reboot.
const SkipRebootKey = "skip_reboot"

// Channel is the established device-to-device connection the orchestrator
// drives. The orchestrator never inspects transport internals beyond this
// interface; mid-send cancellation semantics belong to the implementation.
type Channel interface {
	// SendFile transfers one item and returns once the peer has taken it.
	SendFile(ctx context.Context, item *manifest.Item) error

	// SendMigrationSize announces the total run size before any item is sent.
	SendMigrationSize(ctx context.Context, totalBytes int64, fileCount int) error

	// SendDefaultFlag sets a preference default on the peer.
	SendDefaultFlag(ctx context.Context, key string, value bool) error

	// SendMigrationCompleted tells the peer the run is complete and waits
	// for its confirmation.
	SendMigrationCompleted(ctx context.Context) error

	// SetCounterFunc registers the callback that receives incremental
	// byte and file counts. The callback may be invoked from a different
	// goroutine than the orchestrator's task.
	SetCounterFunc(fn func(bytes int64, files int))

	// ReportWindow returns the bandwidth report covering the window since
	// the previous reset and immediately opens a new window, so successive
	// reports are non-overlapping deltas. ok is false when no report
	// covers the currently active network path.
	ReportWindow() (w progress.Window, ok bool)

	// ResetReportWindow discards the pending window and opens a fresh one.
	ResetReportWindow()

	// ActivePath identifies the network path currently carrying the run.
	ActivePath() string
}

// ReportSink receives migration lifecycle events for persistence or
// telemetry. Implementations must tolerate being called from the
// orchestrator's task goroutine.
type ReportSink interface {
	RecordStart()
	RecordTotalSize(bytes int64)
	RecordMigratedFile(path string)
	RecordError(message string)
	RecordEnd()
}
