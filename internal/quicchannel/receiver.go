package quicchannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/portover/portover/internal/bufpool"
	"github.com/portover/portover/pkg/manifest"
	"github.com/portover/portover/pkg/protocol"
)

// Receiver serves the target half of the data plane: it answers control
// envelopes on the first accepted stream and stores incoming items from
// every subsequent one.
type Receiver struct {
	conn    *quic.Conn
	logger  *slog.Logger
	pool    *bufpool.Pool
	outDir  string
	appsDir string

	mu         sync.Mutex
	totalBytes int64
	fileCount  int
	flags      map[string]bool

	// OnCompleted fires once after a migration-completed envelope is
	// acknowledged. Optional.
	OnCompleted func()
}

// NewReceiver prepares a receiver storing files under outDir. Application
// payloads land in an apps subdirectory.
func NewReceiver(conn *quic.Conn, outDir string, logger *slog.Logger) *Receiver {
	return &Receiver{
		conn:    conn,
		logger:  logger,
		pool:    bufpool.New(bufpool.DefaultChunkSize),
		outDir:  outDir,
		appsDir: filepath.Join(outDir, "apps"),
		flags:   make(map[string]bool),
	}
}

// Flag reports the value of a preference default set by the peer.
func (r *Receiver) Flag(key string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.flags[key]
	return v, ok
}

// Announced returns the total size the peer declared for the run.
func (r *Receiver) Announced() (int64, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalBytes, r.fileCount
}

// Serve accepts the control stream and then item streams until the
// connection or ctx ends. Items are stored one at a time.
func (r *Receiver) Serve(ctx context.Context) error {
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	control, err := r.conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("failed to accept control stream: %w", err)
	}
	go r.serveControl(control)

	for {
		stream, err := r.conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to accept data stream: %w", err)
		}
		if err := r.receiveItem(stream); err != nil {
			r.logger.Warn("item receive failed", "error", err)
		}
	}
}

// receiveItem stores a single framed item and answers with a status byte.
func (r *Receiver) receiveItem(stream *quic.Stream) error {
	hdr, err := readItemHeader(stream)
	if err != nil {
		stream.CancelRead(0)
		stream.Close()
		return err
	}

	dir := r.outDir
	if hdr.Kind == manifest.KindApplication {
		dir = r.appsDir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.reply(stream, statusWriteError)
			return fmt.Errorf("failed to create apps dir: %w", err)
		}
	}

	dst := filepath.Join(dir, hdr.Name)
	f, err := os.Create(dst)
	if err != nil {
		r.reply(stream, statusWriteError)
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	err = readItemPayload(stream, f, hdr.Size, r.pool)
	closeErr := f.Close()
	switch {
	case errors.Is(err, ErrCRCMismatch):
		os.Remove(dst)
		r.reply(stream, statusCRC)
		return err
	case err != nil:
		os.Remove(dst)
		r.reply(stream, statusWriteError)
		return err
	case closeErr != nil:
		os.Remove(dst)
		r.reply(stream, statusWriteError)
		return fmt.Errorf("failed to close %s: %w", dst, closeErr)
	}

	r.logger.Info("item stored", "name", hdr.Name, "bytes", hdr.Size)
	r.reply(stream, statusOK)
	return nil
}

func (r *Receiver) reply(stream *quic.Stream, status byte) {
	if _, err := stream.Write([]byte{status}); err != nil {
		r.logger.Warn("failed to write item status", "error", err)
	}
	stream.Close()
}

// serveControl answers size, flag, completed and ping envelopes.
func (r *Receiver) serveControl(control *quic.Stream) {
	dec := json.NewDecoder(control)
	enc := json.NewEncoder(control)
	var writeMu sync.Mutex

	reply := func(env protocol.Envelope) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(env); err != nil {
			r.logger.Warn("control reply failed", "error", err)
		}
	}
	ack := func(msgID string, ok bool, msg string) {
		env, err := protocol.NewEnvelope(protocol.TypeAck, msgID, protocol.Ack{OK: ok, Message: msg})
		if err != nil {
			return
		}
		reply(env)
	}

	for {
		var env protocol.Envelope
		if err := dec.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debug("control stream ended", "error", err)
			}
			return
		}
		if err := env.ValidateBasic(); err != nil {
			r.logger.Warn("dropping malformed control envelope", "error", err)
			continue
		}

		switch env.Type {
		case protocol.TypePing:
			pong, err := protocol.NewEnvelope(protocol.TypePong, env.MsgID, nil)
			if err == nil {
				reply(pong)
			}

		case protocol.TypeMigrationSize:
			var size protocol.MigrationSize
			if err := env.DecodePayload(&size); err != nil {
				ack(env.MsgID, false, "malformed payload")
				continue
			}
			r.mu.Lock()
			r.totalBytes = size.TotalBytes
			r.fileCount = size.FileCount
			r.mu.Unlock()
			r.logger.Info("migration size announced", "total_bytes", size.TotalBytes, "file_count", size.FileCount)
			ack(env.MsgID, true, "")

		case protocol.TypeDefaultFlag:
			var flag protocol.DefaultFlag
			if err := env.DecodePayload(&flag); err != nil {
				ack(env.MsgID, false, "malformed payload")
				continue
			}
			r.mu.Lock()
			r.flags[flag.Key] = flag.Value
			r.mu.Unlock()
			r.logger.Info("default flag set", "key", flag.Key, "value", flag.Value)
			ack(env.MsgID, true, "")

		case protocol.TypeMigrationCompleted:
			r.logger.Info("migration completed")
			ack(env.MsgID, true, "")
			if r.OnCompleted != nil {
				r.OnCompleted()
			}

		default:
			ack(env.MsgID, false, "unsupported type")
		}
	}
}
