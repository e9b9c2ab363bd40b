package signal

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/portover/portover/internal/pairing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	code := pairing.NewCode(time.Minute)
	s := NewServer(code, quietLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { s.Close() })
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return s, wsURL
}

func dialClient(t *testing.T, s *Server, wsURL string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), wsURL, s.code.Value(), quietLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialRejectsWrongCode(t *testing.T) {
	_, wsURL := startServer(t)
	if _, err := Dial(context.Background(), wsURL, "WRONGCODE", quietLogger()); err == nil {
		t.Fatal("dial with wrong code succeeded")
	}
}

func TestReadyAndPowerDelivered(t *testing.T) {
	s, wsURL := startServer(t)

	attached := make(chan struct{})
	s.OnAttach = func(string) { close(attached) }

	c := dialClient(t, s, wsURL)

	ready := make(chan string, 1)
	power := make(chan bool, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.ReadLoop(ctx, Handlers{
		OnReady: func(peerID string) { ready <- peerID },
		OnPower: func(connected bool) { power <- connected },
	})

	select {
	case <-attached:
	case <-time.After(5 * time.Second):
		t.Fatal("source never attached")
	}

	if err := s.AnnounceReady("target-1"); err != nil {
		t.Fatalf("AnnounceReady: %v", err)
	}
	if err := s.PublishPowerState(true); err != nil {
		t.Fatalf("PublishPowerState: %v", err)
	}

	select {
	case peerID := <-ready:
		if peerID != "target-1" {
			t.Errorf("peer id = %q, want %q", peerID, "target-1")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ready never delivered")
	}
	select {
	case connected := <-power:
		if !connected {
			t.Error("power state = false, want true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("power state never delivered")
	}
}

func TestSecondPeerRefused(t *testing.T) {
	s, wsURL := startServer(t)

	attached := make(chan struct{}, 1)
	s.OnAttach = func(string) { attached <- struct{}{} }

	dialClient(t, s, wsURL)
	select {
	case <-attached:
	case <-time.After(5 * time.Second):
		t.Fatal("first peer never attached")
	}

	// A second dial upgrades but is closed immediately with a policy
	// violation; the server must still hold the first connection.
	second, err := Dial(context.Background(), wsURL, s.code.Value(), quietLogger())
	if err == nil {
		defer second.Close()
		errCh := make(chan error, 1)
		go func() { errCh <- second.ReadLoop(context.Background(), Handlers{}) }()
		select {
		case readErr := <-errCh:
			if readErr == nil {
				t.Fatal("second peer read loop ended without error")
			}
		case <-time.After(5 * time.Second):
			t.Fatal("second peer was not dropped")
		}
	}

	if err := s.AnnounceReady("target-1"); err != nil {
		t.Errorf("first peer lost after refused second: %v", err)
	}
}

func TestPushWithoutPeer(t *testing.T) {
	s := NewServer(pairing.NewCode(time.Minute), quietLogger())
	if err := s.AnnounceReady("nobody"); err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}
