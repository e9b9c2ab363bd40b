package quicchannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/portover/portover/internal/bufpool"
	"github.com/portover/portover/internal/progress"
	"github.com/portover/portover/pkg/manifest"
	"github.com/portover/portover/pkg/protocol"
)

const (
	controlTimeout = 30 * time.Second
	pingInterval   = 3 * time.Second
	srttAlpha      = 0.125
)

// ErrChannelClosed is returned for operations on a closed channel.
var ErrChannelClosed = errors.New("channel closed")

// Channel drives the source half of the migration data plane over an
// established QUIC connection: control envelopes on a dedicated stream, one
// data stream per item. Sends are strictly sequential; the channel opens at
// most one data stream at a time.
type Channel struct {
	conn    *quic.Conn
	control *quic.Stream
	logger  *slog.Logger
	pool    *bufpool.Pool
	path    string

	enc     *json.Encoder
	writeMu sync.Mutex

	waiterMu sync.Mutex
	waiters  map[string]chan protocol.Envelope

	counterMu sync.Mutex
	counterFn func(int64, int)

	windowMu    sync.Mutex
	windowStart time.Time
	windowBytes int64
	srtt        time.Duration

	closeOnce sync.Once
	closed    chan struct{}
	now       func() time.Time
}

// NewChannel opens the control stream on conn and starts the response
// reader and the RTT ping loop. pathLabel identifies the network path the
// connection rides on, for bandwidth reports.
func NewChannel(ctx context.Context, conn *quic.Conn, pathLabel string, logger *slog.Logger) (*Channel, error) {
	control, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open control stream: %w", err)
	}

	c := &Channel{
		conn:    conn,
		control: control,
		logger:  logger,
		pool:    bufpool.New(bufpool.DefaultChunkSize),
		path:    pathLabel,
		enc:     json.NewEncoder(control),
		waiters: make(map[string]chan protocol.Envelope),
		closed:  make(chan struct{}),
		now:     time.Now,
	}
	c.ResetReportWindow()

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Close tears down the control stream and the connection.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.control.Close()
		err = c.conn.CloseWithError(0, "bye")
	})
	return err
}

// SendFile transfers one item on a fresh stream and waits for the peer's
// acceptance. Byte and file counts are reported through the counter
// callback as the payload moves.
func (c *Channel) SendFile(ctx context.Context, item *manifest.Item) error {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to open data stream: %w", err)
	}

	err = writeItemFrame(ctx, stream, item, c.pool, func(n int) {
		c.addWindowBytes(int64(n))
		c.notifyCounters(int64(n), 0)
	})
	if err != nil {
		stream.CancelWrite(0)
		stream.CancelRead(0)
		return err
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to finish data stream: %w", err)
	}

	// The peer answers with a single status byte once the item is stored.
	status := make([]byte, 1)
	if _, err := stream.Read(status); err != nil {
		return fmt.Errorf("failed to read item status: %w", err)
	}
	if status[0] != statusOK {
		return fmt.Errorf("%w: status %d", ErrPeerRejected, status[0])
	}

	c.notifyCounters(0, 1)
	return nil
}

// SendMigrationSize announces the total run size on the control stream.
func (c *Channel) SendMigrationSize(ctx context.Context, totalBytes int64, fileCount int) error {
	return c.sendControl(ctx, protocol.TypeMigrationSize, protocol.MigrationSize{
		TotalBytes: totalBytes,
		FileCount:  fileCount,
	})
}

// SendDefaultFlag sets a preference default on the peer.
func (c *Channel) SendDefaultFlag(ctx context.Context, key string, value bool) error {
	return c.sendControl(ctx, protocol.TypeDefaultFlag, protocol.DefaultFlag{Key: key, Value: value})
}

// SendMigrationCompleted tells the peer the run is complete and waits for
// its confirmation.
func (c *Channel) SendMigrationCompleted(ctx context.Context) error {
	return c.sendControl(ctx, protocol.TypeMigrationCompleted, nil)
}

// SetCounterFunc registers the byte/file increment callback.
func (c *Channel) SetCounterFunc(fn func(bytes int64, files int)) {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()
	c.counterFn = fn
}

// ReportWindow returns the bandwidth report for the window since the last
// reset and opens a new window. ok is false before any window was opened.
func (c *Channel) ReportWindow() (progress.Window, bool) {
	c.windowMu.Lock()
	defer c.windowMu.Unlock()

	if c.windowStart.IsZero() {
		return progress.Window{}, false
	}
	now := c.now()
	w := progress.Window{
		Bytes:    c.windowBytes,
		Duration: now.Sub(c.windowStart),
		SRTT:     c.srtt,
	}
	c.windowStart = now
	c.windowBytes = 0
	return w, true
}

// ResetReportWindow discards the pending window and opens a fresh one.
func (c *Channel) ResetReportWindow() {
	c.windowMu.Lock()
	defer c.windowMu.Unlock()
	c.windowStart = c.now()
	c.windowBytes = 0
}

// ActivePath identifies the network path carrying the connection.
func (c *Channel) ActivePath() string {
	return c.path
}

// SRTT returns the smoothed round-trip estimate from the ping loop.
func (c *Channel) SRTT() time.Duration {
	c.windowMu.Lock()
	defer c.windowMu.Unlock()
	return c.srtt
}

func (c *Channel) addWindowBytes(n int64) {
	c.windowMu.Lock()
	c.windowBytes += n
	c.windowMu.Unlock()
}

func (c *Channel) notifyCounters(bytes int64, files int) {
	c.counterMu.Lock()
	fn := c.counterFn
	c.counterMu.Unlock()
	if fn != nil {
		fn(bytes, files)
	}
}

// sendControl writes an envelope and waits for the matching ack.
func (c *Channel) sendControl(ctx context.Context, msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, protocol.NewMsgID(), payload)
	if err != nil {
		return err
	}

	wait := c.addWaiter(env.MsgID)
	defer c.removeWaiter(env.MsgID)

	if err := c.writeEnvelope(env); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	select {
	case res := <-wait:
		var ack protocol.Ack
		if err := res.DecodePayload(&ack); err != nil {
			return fmt.Errorf("malformed ack for %s: %w", msgType, err)
		}
		if !ack.OK {
			return fmt.Errorf("peer refused %s: %s", msgType, ack.Message)
		}
		return nil
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) writeEnvelope(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	return c.enc.Encode(env)
}

func (c *Channel) addWaiter(msgID string) chan protocol.Envelope {
	ch := make(chan protocol.Envelope, 1)
	c.waiterMu.Lock()
	c.waiters[msgID] = ch
	c.waiterMu.Unlock()
	return ch
}

func (c *Channel) removeWaiter(msgID string) {
	c.waiterMu.Lock()
	delete(c.waiters, msgID)
	c.waiterMu.Unlock()
}

// readLoop routes control responses (acks, pongs) to their waiters.
func (c *Channel) readLoop() {
	dec := json.NewDecoder(c.control)
	for {
		var env protocol.Envelope
		if err := dec.Decode(&env); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn("control stream read failed", "error", err)
			}
			return
		}
		if err := env.ValidateBasic(); err != nil {
			c.logger.Warn("dropping malformed control envelope", "error", err)
			continue
		}

		c.waiterMu.Lock()
		wait, ok := c.waiters[env.MsgID]
		c.waiterMu.Unlock()
		if !ok {
			c.logger.Debug("unmatched control response", "type", env.Type, "msg_id", env.MsgID)
			continue
		}
		wait <- env
	}
}

// pingLoop keeps a smoothed round-trip estimate for the ETA's per-file
// overhead term.
func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
		}

		env, err := protocol.NewEnvelope(protocol.TypePing, protocol.NewMsgID(), nil)
		if err != nil {
			continue
		}
		wait := c.addWaiter(env.MsgID)
		sent := c.now()
		if err := c.writeEnvelope(env); err != nil {
			c.removeWaiter(env.MsgID)
			return
		}

		select {
		case <-wait:
			c.observeRTT(c.now().Sub(sent))
		case <-time.After(pingInterval):
			// Lost pong, keep the previous estimate.
		case <-c.closed:
			c.removeWaiter(env.MsgID)
			return
		}
		c.removeWaiter(env.MsgID)
	}
}

func (c *Channel) observeRTT(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	c.windowMu.Lock()
	defer c.windowMu.Unlock()
	if c.srtt == 0 {
		c.srtt = rtt
		return
	}
	c.srtt = time.Duration(srttAlpha*float64(rtt) + (1-srttAlpha)*float64(c.srtt))
}
