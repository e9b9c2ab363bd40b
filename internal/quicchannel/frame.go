package quicchannel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/portover/portover/internal/bufpool"
	"github.com/portover/portover/pkg/manifest"
)

const (
	frameMagic = "POV1"

	maxNameLength = 256
	maxItemSize   = 4 * 1024 * 1024 * 1024 * 1024 // 4TB

	statusOK         = 0
	statusCRC        = 1
	statusWriteError = 2
)

var (
	// ErrInvalidMagic indicates the frame magic bytes don't match.
	ErrInvalidMagic = errors.New("invalid frame magic")
	// ErrNameTooLong indicates the item name exceeds the maximum length.
	ErrNameTooLong = errors.New("item name too long")
	// ErrItemTooLarge indicates the item exceeds the maximum allowed size.
	ErrItemTooLarge = errors.New("item size too large")
	// ErrInvalidName indicates the item name contains path traversal or is invalid.
	ErrInvalidName = errors.New("invalid item name")
	// ErrCRCMismatch indicates the CRC32 checksum doesn't match.
	ErrCRCMismatch = errors.New("CRC32 checksum mismatch")
	// ErrPeerRejected indicates the peer refused or failed to store the item.
	ErrPeerRejected = errors.New("peer rejected item")
)

// writeItemFrame streams one manifest item over the stream: magic, kind
// byte, length-prefixed name, size, payload, trailing CRC32. onChunk is
// called with each payload chunk's length as it goes out.
func writeItemFrame(ctx context.Context, s io.Writer, item *manifest.Item, pool *bufpool.Pool, onChunk func(int)) error {
	file, err := os.Open(item.Path)
	if err != nil {
		return fmt.Errorf("failed to open item: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat item: %w", err)
	}
	size := info.Size()
	if size > maxItemSize {
		return ErrItemTooLarge
	}

	name := filepath.Base(item.Path)
	if err := validateName(name); err != nil {
		return err
	}

	if _, err := s.Write([]byte(frameMagic)); err != nil {
		return fmt.Errorf("failed to write magic: %w", err)
	}
	if _, err := s.Write([]byte{kindByte(item.Kind)}); err != nil {
		return fmt.Errorf("failed to write kind: %w", err)
	}

	nameBytes := []byte(name)
	if len(nameBytes) > maxNameLength {
		return ErrNameTooLong
	}
	if err := binary.Write(s, binary.BigEndian, uint16(len(nameBytes))); err != nil {
		return fmt.Errorf("failed to write name length: %w", err)
	}
	if _, err := s.Write(nameBytes); err != nil {
		return fmt.Errorf("failed to write name: %w", err)
	}
	if err := binary.Write(s, binary.BigEndian, uint64(size)); err != nil {
		return fmt.Errorf("failed to write size: %w", err)
	}

	crc := crc32.NewIEEE()
	buf := pool.Get()
	defer pool.Put(buf)
	remaining := size

	for remaining > 0 {
		// Cancellation is only honored between chunks.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunk := int64(len(buf))
		if chunk > remaining {
			chunk = remaining
		}
		n, err := file.Read(buf[:chunk])
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read item: %w", err)
		}
		if n == 0 {
			break
		}
		crc.Write(buf[:n])
		if _, err := s.Write(buf[:n]); err != nil {
			return fmt.Errorf("failed to write payload: %w", err)
		}
		if onChunk != nil {
			onChunk(n)
		}
		remaining -= int64(n)
	}

	if err := binary.Write(s, binary.BigEndian, crc.Sum32()); err != nil {
		return fmt.Errorf("failed to write checksum: %w", err)
	}
	return nil
}

// itemHeader is the decoded fixed part of an incoming frame.
type itemHeader struct {
	Kind manifest.Kind
	Name string
	Size int64
}

// readItemHeader consumes the frame header up to the payload.
func readItemHeader(s io.Reader) (itemHeader, error) {
	magic := make([]byte, len(frameMagic))
	if _, err := io.ReadFull(s, magic); err != nil {
		return itemHeader{}, fmt.Errorf("failed to read magic: %w", err)
	}
	if string(magic) != frameMagic {
		return itemHeader{}, ErrInvalidMagic
	}

	var kind [1]byte
	if _, err := io.ReadFull(s, kind[:]); err != nil {
		return itemHeader{}, fmt.Errorf("failed to read kind: %w", err)
	}

	var nameLen uint16
	if err := binary.Read(s, binary.BigEndian, &nameLen); err != nil {
		return itemHeader{}, fmt.Errorf("failed to read name length: %w", err)
	}
	if nameLen == 0 || nameLen > maxNameLength {
		return itemHeader{}, ErrNameTooLong
	}
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(s, nameBytes); err != nil {
		return itemHeader{}, fmt.Errorf("failed to read name: %w", err)
	}
	name := string(nameBytes)
	if err := validateName(name); err != nil {
		return itemHeader{}, err
	}

	var size uint64
	if err := binary.Read(s, binary.BigEndian, &size); err != nil {
		return itemHeader{}, fmt.Errorf("failed to read size: %w", err)
	}
	if size > maxItemSize {
		return itemHeader{}, ErrItemTooLarge
	}

	return itemHeader{
		Kind: kindFromByte(kind[0]),
		Name: name,
		Size: int64(size),
	}, nil
}

// readItemPayload copies the payload to w, verifying the trailing CRC32.
func readItemPayload(s io.Reader, w io.Writer, size int64, pool *bufpool.Pool) error {
	crc := crc32.NewIEEE()
	buf := pool.Get()
	defer pool.Put(buf)
	remaining := size

	for remaining > 0 {
		chunk := int64(len(buf))
		if chunk > remaining {
			chunk = remaining
		}
		n, err := io.ReadFull(s, buf[:chunk])
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}
		crc.Write(buf[:n])
		if _, err := w.Write(buf[:n]); err != nil {
			return fmt.Errorf("failed to store payload: %w", err)
		}
		remaining -= int64(n)
	}

	var want uint32
	if err := binary.Read(s, binary.BigEndian, &want); err != nil {
		return fmt.Errorf("failed to read checksum: %w", err)
	}
	if want != crc.Sum32() {
		return ErrCRCMismatch
	}
	return nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\") {
		return ErrInvalidName
	}
	return nil
}

func kindByte(k manifest.Kind) byte {
	if k == manifest.KindApplication {
		return 'a'
	}
	return 'f'
}

func kindFromByte(b byte) manifest.Kind {
	if b == 'a' {
		return manifest.KindApplication
	}
	return manifest.KindFile
}
