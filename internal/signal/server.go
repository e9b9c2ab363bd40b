package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/portover/portover/internal/pairing"
	"github.com/portover/portover/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Paired devices only, pairing code gates access.
	},
}

// ErrNotConnected is returned when no source is attached to the server.
var ErrNotConnected = errors.New("no peer connected")

// Server is the target-side signaling endpoint. The source attaches with
// the pairing code, then the target pushes readiness and power state
// envelopes over the socket. A single peer is admitted at a time.
type Server struct {
	code   *pairing.Code
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	// OnAttach fires when a source passes pairing and attaches. Optional.
	OnAttach func(remoteAddr string)
}

// NewServer creates a signaling server admitting peers that present code.
func NewServer(code *pairing.Code, logger *slog.Logger) *Server {
	return &Server{code: code, logger: logger}
}

// Handler returns the HTTP handler serving /ws upgrades.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.code.Validate(r.URL.Query().Get("code")) {
		s.logger.Warn("pairing rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid pairing code", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		s.logger.Warn("second peer refused", "remote", r.RemoteAddr)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already paired"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("peer attached", "remote", r.RemoteAddr)
	if s.OnAttach != nil {
		s.OnAttach(r.RemoteAddr)
	}

	go s.readLoop(conn)
}

// readLoop drains the socket so pings are answered and detach is noticed.
func (s *Server) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("peer connection lost", "error", err)
			} else {
				s.logger.Info("peer detached")
			}
			s.drop(conn)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.logger.Warn("invalid JSON envelope", "error", err)
			continue
		}
		if env.Type == protocol.TypeBye {
			s.logger.Info("peer said goodbye")
			s.drop(conn)
			return
		}
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

// AnnounceReady pushes a peer-ready envelope to the attached source.
func (s *Server) AnnounceReady(peerID string) error {
	return s.push(protocol.TypePeerReady, protocol.PeerReady{PeerID: peerID})
}

// PublishPowerState pushes the target's power-connected state.
func (s *Server) PublishPowerState(connected bool) error {
	return s.push(protocol.TypePowerState, protocol.PowerState{Connected: connected})
}

func (s *Server) push(msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, protocol.NewMsgID(), payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to push %s: %w", msgType, err)
	}
	return nil
}

// Close detaches the current peer, if any.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
