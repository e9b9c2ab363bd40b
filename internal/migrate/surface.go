package migrate

import "sync"

// Snapshot is the published state surface read by UIs and other observers.
// It is a value copy: read-only to consumers.
type Snapshot struct {
	Fraction        float64 // completion fraction in [0, 1]
	Percent         string  // displayed percentage, "100%" only after confirmation
	ETA             string  // remaining-time estimate, "" when unknown or done
	ActiveInterface string  // label of the network path carrying the run
	PowerConnected  bool
}

// Surface is the single publication point for run state. Writers are the
// orchestrator and the signal forwarders; observers subscribe for pushes or
// poll Snapshot.
type Surface struct {
	mu   sync.RWMutex
	snap Snapshot
	subs []func(Snapshot)
}

// NewSurface returns an empty surface.
func NewSurface() *Surface {
	return &Surface{}
}

// Subscribe registers a callback invoked after every update. The callback
// receives a value copy and must not block for long; it may be invoked from
// several goroutines, one update at a time per publish site.
func (s *Surface) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Snapshot returns the current published state.
func (s *Surface) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// SetPowerConnected forwards a power-source change verbatim onto the
// surface. It has no other effect on orchestration.
func (s *Surface) SetPowerConnected(connected bool) {
	s.update(func(snap *Snapshot) { snap.PowerConnected = connected })
}

// SetActiveInterface publishes the label of the active network path.
func (s *Surface) SetActiveInterface(label string) {
	s.update(func(snap *Snapshot) { snap.ActiveInterface = label })
}

func (s *Surface) setProgress(fraction float64, percent string) {
	s.update(func(snap *Snapshot) {
		snap.Fraction = fraction
		snap.Percent = percent
	})
}

func (s *Surface) setETA(eta string) {
	s.update(func(snap *Snapshot) { snap.ETA = eta })
}

func (s *Surface) update(mutate func(*Snapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	snap := s.snap
	subs := make([]func(Snapshot), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
