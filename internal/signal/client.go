package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/portover/portover/pkg/protocol"
)

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Handlers receives signaling events on the source side. Nil handlers are
// skipped. OnReady fires for every peer-ready envelope; deduplication is
// the caller's concern.
type Handlers struct {
	OnReady func(peerID string)
	OnPower func(connected bool)
}

// Client is the source-side signaling connection to the target.
type Client struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	writeMu sync.Mutex
}

// Dial connects to the target's signaling endpoint, presenting the
// pairing code as a query parameter.
func Dial(ctx context.Context, baseURL, code string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signal URL: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()

	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}

	return &Client{conn: conn, logger: logger}, nil
}

// ReadLoop reads envelopes until the connection closes or ctx is
// cancelled, dispatching to h.
func (c *Client) ReadLoop(ctx context.Context, h Handlers) error {
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.writeMu.Lock()
				c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		// Closing the connection forces ReadMessage to unblock instantly.
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("invalid JSON envelope", "error", err)
			continue
		}
		c.dispatch(env, h)
	}
}

func (c *Client) dispatch(env protocol.Envelope, h Handlers) {
	switch env.Type {
	case protocol.TypePeerReady:
		var ready protocol.PeerReady
		if err := env.DecodePayload(&ready); err != nil {
			c.logger.Warn("malformed peer-ready payload", "error", err)
			return
		}
		if h.OnReady != nil {
			h.OnReady(ready.PeerID)
		}

	case protocol.TypePowerState:
		var power protocol.PowerState
		if err := env.DecodePayload(&power); err != nil {
			c.logger.Warn("malformed power-state payload", "error", err)
			return
		}
		if h.OnPower != nil {
			h.OnPower(power.Connected)
		}

	default:
		c.logger.Debug("ignoring signal envelope", "type", env.Type)
	}
}

// SendBye tells the target the source is going away.
func (c *Client) SendBye() error {
	env, err := protocol.NewEnvelope(protocol.TypeBye, protocol.NewMsgID(), nil)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(env)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
