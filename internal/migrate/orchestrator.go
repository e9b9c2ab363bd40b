package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/portover/portover/internal/progress"
	"github.com/portover/portover/pkg/manifest"
)

// Config wires an orchestrator to its collaborators. Channel, ReportSink and
// the manifest are injected at construction; the orchestrator owns nothing
// beyond its own run state.
type Config struct {
	Manifest *manifest.Manifest
	Channel  Channel
	Sink     ReportSink
	Logger   *slog.Logger
	Surface  *Surface // optional; created when nil

	// Sampler cadence; zero values use the production defaults.
	SamplerWarmup   time.Duration
	SamplerInterval time.Duration

	// OnFinished is the external run-finished notification hook
	// (sound, window raise). Called once, after Completed.
	OnFinished func()

	Now func() time.Time // test clock
}

// Orchestrator sequences one migration run: it drives the manifest through
// the transfer channel strictly sequentially, updates the progress tracker
// from the channel's counter notifications, runs the bandwidth sampler, and
// reports lifecycle events to the report sink.
//
// The send loop runs as a single cancellable task. Cancellation is
// cooperative: it is checked between items, never mid-send.
type Orchestrator struct {
	man     *manifest.Manifest
	channel Channel
	sink    ReportSink
	logger  *slog.Logger
	surface *Surface
	tracker *progress.Tracker
	sampler *progress.Sampler

	onFinished func()
	now        func() time.Time

	mu        sync.Mutex
	phase     Phase
	cancelled bool
	cancel    context.CancelFunc
	startTime time.Time

	done     chan struct{}
	doneOnce sync.Once
}

// New constructs an orchestrator. The channel's counter stream is wired to
// the progress tracker here, before any run starts, so no increment can be
// lost.
func New(cfg Config) *Orchestrator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Surface == nil {
		cfg.Surface = NewSurface()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	o := &Orchestrator{
		man:        cfg.Manifest,
		channel:    cfg.Channel,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
		surface:    cfg.Surface,
		tracker:    progress.NewTrackerWithNow(cfg.Now),
		onFinished: cfg.OnFinished,
		now:        cfg.Now,
		done:       make(chan struct{}),
	}

	o.sampler = progress.NewSampler(progress.SamplerConfig{
		Warmup:    cfg.SamplerWarmup,
		Interval:  cfg.SamplerInterval,
		Take:      o.channel.ReportWindow,
		Remaining: o.tracker.Remaining,
		Publish: func(eta time.Duration) {
			o.surface.setETA(formatETA(eta))
		},
	})

	o.channel.SetCounterFunc(func(bytes int64, files int) {
		o.tracker.Add(bytes, files)
		o.publishProgress()
	})

	return o
}

// Surface returns the published state surface for this run.
func (o *Orchestrator) Surface() *Surface {
	return o.surface
}

// Phase returns the current state machine position.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Done is closed when the run reaches a resting state: Completed, Aborted,
// or stuck in Finalizing after a failed completion signal.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// PeerReady is the one-shot trigger: the peer device reported it is ready
// to receive. The first call starts the run; any later call, or a call
// after cancellation, is ignored and returns false.
func (o *Orchestrator) PeerReady() bool {
	o.mu.Lock()
	if o.phase != NotStarted || o.cancelled {
		o.mu.Unlock()
		return false
	}
	o.phase = Preparing
	o.startTime = o.now()
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.mu.Unlock()

	o.logger.Info("peer ready, starting migration run",
		"total_bytes", o.man.TotalBytes, "file_count", o.man.FileCount)
	go o.run(ctx)
	return true
}

// Cancel aborts the run from any non-terminal state. The in-flight send, if
// any, finishes or aborts per the channel's own cancellation contract; no
// further items are dispatched once cancellation is observed.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if o.phase.Terminal() {
		o.mu.Unlock()
		return
	}
	o.cancelled = true
	o.phase = Aborted
	o.startTime = time.Time{}
	cancel := o.cancel
	o.mu.Unlock()

	o.sampler.Stop()
	o.logger.Info("migration run aborted")
	if cancel != nil {
		// The running task observes cancellation between items and
		// closes done itself once it comes to rest.
		cancel()
		return
	}
	o.doneOnce.Do(func() { close(o.done) })
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.doneOnce.Do(func() { close(o.done) })

	// Resume offset: everything a prior run already moved, plus the
	// one-byte started sentinel.
	offset := o.man.SentBytes() + manifest.StartSentinelBytes
	o.tracker.Start(o.man.TotalBytes, o.man.FileCount, offset, o.man.SentFiles())
	o.publishProgress()

	o.sink.RecordStart()
	o.sink.RecordTotalSize(o.man.TotalBytes)

	if err := o.channel.SendMigrationSize(ctx, o.man.TotalBytes, o.man.FileCount); err != nil {
		// Recoverable: the peer falls back to indeterminate progress.
		o.logger.Warn("migration size announcement failed", "error", err)
	}

	// No preferences queued and none required: tell the peer it can skip
	// its post-migration reboot. Best effort.
	if len(o.man.Prefs) == 0 && !o.man.Option.MigratePreferences {
		if err := o.channel.SendDefaultFlag(ctx, SkipRebootKey, true); err != nil {
			o.logger.Warn("skip-reboot flag send failed", "error", err)
		}
	}

	if !o.setPhase(SendingFiles) {
		o.finishAborted()
		return
	}
	o.sampler.Start()

	for _, it := range o.man.Files {
		if o.isCancelled() {
			o.finishAborted()
			return
		}
		if it.Sent || !it.Selected {
			continue
		}
		if err := o.channel.SendFile(ctx, it); err != nil {
			// A single item failure never aborts the run.
			o.logger.Warn("file send failed", "path", it.Path, "error", err)
			o.sink.RecordError(fmt.Sprintf("send %s: %v", it.Path, err))
			continue
		}
		it.Sent = true
		o.sink.RecordMigratedFile(it.Path)
	}

	if !o.setPhase(SendingApps) {
		o.finishAborted()
		return
	}

	for _, it := range o.man.Apps {
		if o.isCancelled() {
			o.finishAborted()
			return
		}
		if it.Sent || !it.Selected {
			continue
		}
		if err := o.channel.SendFile(ctx, it); err != nil {
			// App failures are logged but not reported to the sink.
			o.logger.Warn("application send failed", "path", it.Path, "error", err)
			continue
		}
		it.Sent = true
	}

	if !o.setPhase(Finalizing) {
		o.finishAborted()
		return
	}

	o.channel.ResetReportWindow()

	if err := o.channel.SendMigrationCompleted(ctx); err != nil {
		// Terminal for the run: no automatic retry, progress stays
		// below 100 until an external re-run reaches completion.
		o.logger.Error("completion signal failed, run remains incomplete", "error", err)
		return
	}

	o.tracker.Complete()
	o.publishProgress()
	o.surface.setETA("")
	o.sampler.Stop()
	o.sink.RecordEnd()
	if o.setPhase(Completed) {
		o.logger.Info("migration run completed")
		if o.onFinished != nil {
			o.onFinished()
		}
	}
}

// setPhase advances the state machine unless the run was aborted underneath
// the task. Returns false when the transition was refused.
func (o *Orchestrator) setPhase(p Phase) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase.Terminal() || o.cancelled {
		return false
	}
	o.phase = p
	return true
}

func (o *Orchestrator) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

func (o *Orchestrator) finishAborted() {
	o.sampler.Stop()
	o.mu.Lock()
	o.startTime = time.Time{}
	o.mu.Unlock()
}

func (o *Orchestrator) publishProgress() {
	s := o.tracker.Snapshot()
	o.surface.setProgress(s.Fraction, s.Percent)
}

// formatETA renders a duration for display, rounded to whole seconds.
func formatETA(eta time.Duration) string {
	if eta <= 0 {
		return "0s"
	}
	return eta.Round(time.Second).String()
}
