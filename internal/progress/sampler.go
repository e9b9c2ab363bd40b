package progress

import (
	"sync"
	"time"
)

// Window is one transport report: the bytes moved over the active network
// path since the previous reset, the wall time the window covered, and the
// smoothed round-trip estimate for that path.
type Window struct {
	Bytes    int64
	Duration time.Duration
	SRTT     time.Duration
}

// SamplerConfig wires a sampler to its collaborators.
type SamplerConfig struct {
	// Warmup delays the first sample so the transfer ramps past its
	// initial slow phase before a measurement is taken.
	Warmup time.Duration
	// Interval is the cadence of every subsequent sample.
	Interval time.Duration
	// Take returns the report window since the previous reset and opens a
	// new one. ok is false when no report covers the active path.
	Take func() (w Window, ok bool)
	// Remaining returns the bytes and files still outstanding.
	Remaining func() (int64, int)
	// Publish delivers a fresh ETA. It is never called for a skipped cycle.
	Publish func(eta time.Duration)
}

// DefaultWarmup and DefaultInterval are the production cadence.
const (
	DefaultWarmup   = 5 * time.Second
	DefaultInterval = 15 * time.Second
)

// Sampler periodically converts transport report windows into an ETA.
//
// It reschedules itself with a one-shot timer after each sample completes
// rather than running on a free ticker, so report windows never overlap. A
// bad or missing reading skips the publish but still schedules the next
// sample; the sampler never stalls on one bad window.
type Sampler struct {
	cfg     SamplerConfig
	mu      sync.Mutex
	timer   *time.Timer
	running bool
}

// NewSampler returns a stopped sampler.
func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.Warmup <= 0 {
		cfg.Warmup = DefaultWarmup
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Sampler{cfg: cfg}
}

// Start schedules the first sample after the warmup delay.
// Starting a running sampler is a no-op.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.timer = time.AfterFunc(s.cfg.Warmup, s.fire)
}

// Stop invalidates the pending timer. No further samples fire after Stop
// returns, though one already in flight may still complete.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Sampler) fire() {
	s.SampleOnce()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.timer = time.AfterFunc(s.cfg.Interval, s.fire)
}

// SampleOnce takes one report window and publishes an ETA from it.
// Returns false when the cycle was skipped.
func (s *Sampler) SampleOnce() bool {
	w, ok := s.cfg.Take()
	if !ok || w.Duration <= 0 || w.Bytes <= 0 {
		return false
	}

	throughput := float64(w.Bytes) / w.Duration.Seconds()
	if throughput <= 0 {
		return false
	}

	remBytes, remFiles := s.cfg.Remaining()
	if remBytes < 0 {
		remBytes = 0
	}
	if remFiles < 0 {
		remFiles = 0
	}

	eta := time.Duration(float64(remBytes)/throughput*float64(time.Second)) +
		time.Duration(remFiles)*w.SRTT
	if eta < 0 {
		eta = 0
	}

	s.cfg.Publish(eta)
	return true
}
