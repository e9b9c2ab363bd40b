package progress

import (
	"sync"
	"testing"
	"time"
)

func TestSampleOncePublishesETA(t *testing.T) {
	var got time.Duration
	s := NewSampler(SamplerConfig{
		Take: func() (Window, bool) {
			// 1000 B over 1s, 100ms smoothed RTT.
			return Window{Bytes: 1000, Duration: time.Second, SRTT: 100 * time.Millisecond}, true
		},
		Remaining: func() (int64, int) { return 2000, 3 },
		Publish:   func(eta time.Duration) { got = eta },
	})

	if !s.SampleOnce() {
		t.Fatal("expected sample to publish")
	}
	// 2000/1000 B/s = 2s, plus 3 * 100ms.
	want := 2*time.Second + 300*time.Millisecond
	if got != want {
		t.Fatalf("expected ETA %s, got %s", want, got)
	}
}

func TestSampleOnceZeroRemaining(t *testing.T) {
	var got time.Duration = -1
	s := NewSampler(SamplerConfig{
		Take: func() (Window, bool) {
			return Window{Bytes: 500, Duration: time.Second}, true
		},
		Remaining: func() (int64, int) { return 0, 0 },
		Publish:   func(eta time.Duration) { got = eta },
	})

	if !s.SampleOnce() {
		t.Fatal("expected sample to publish")
	}
	if got != 0 {
		t.Fatalf("expected zero ETA with nothing remaining, got %s", got)
	}
}

func TestSampleOnceSkipsBadWindow(t *testing.T) {
	published := false
	publish := func(time.Duration) { published = true }
	remaining := func() (int64, int) { return 100, 1 }

	tests := []struct {
		name string
		take func() (Window, bool)
	}{
		{"no report for active path", func() (Window, bool) { return Window{}, false }},
		{"zero duration", func() (Window, bool) { return Window{Bytes: 100}, true }},
		{"zero bytes", func() (Window, bool) { return Window{Duration: time.Second}, true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSampler(SamplerConfig{Take: tt.take, Remaining: remaining, Publish: publish})
			if s.SampleOnce() {
				t.Fatal("expected cycle to be skipped")
			}
			if published {
				t.Fatal("expected no publish on a skipped cycle")
			}
		})
	}
}

func TestSamplerReschedulesAfterSkip(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})

	s := NewSampler(SamplerConfig{
		Warmup:   time.Millisecond,
		Interval: time.Millisecond,
		Take: func() (Window, bool) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 3 {
				close(done)
			}
			return Window{}, false // every cycle is a bad reading
		},
		Remaining: func() (int64, int) { return 1, 1 },
		Publish:   func(time.Duration) { t.Error("unexpected publish") },
	})

	s.Start()
	defer s.Stop()

	select {
	case <-done:
		// Sampler kept scheduling despite bad readings.
	case <-time.After(2 * time.Second):
		t.Fatal("sampler stalled after a bad reading")
	}
}

func TestSamplerStopPreventsFurtherSamples(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	s := NewSampler(SamplerConfig{
		Warmup:   time.Millisecond,
		Interval: time.Millisecond,
		Take: func() (Window, bool) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return Window{}, false
		},
		Remaining: func() (int64, int) { return 1, 1 },
		Publish:   func(time.Duration) {},
	})

	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	mu.Lock()
	after := calls
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	final := calls
	mu.Unlock()
	if final > after+1 { // at most one in-flight sample may finish
		t.Fatalf("samples continued after Stop: %d -> %d", after, final)
	}
}
