package quicchannel

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/portover/portover/internal/bufpool"
	"github.com/portover/portover/pkg/manifest"
)

func writeTempItem(t *testing.T, name string, data []byte) *manifest.Item {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp item: %v", err)
	}
	return &manifest.Item{Path: path, Size: int64(len(data)), Kind: manifest.KindFile}
}

func TestItemFrameRoundTrip(t *testing.T) {
	pool := bufpool.New(64)
	payload := bytes.Repeat([]byte("portover"), 40) // crosses chunk boundaries
	item := writeTempItem(t, "photo.jpg", payload)
	item.Kind = manifest.KindApplication

	var frame bytes.Buffer
	var chunked int
	err := writeItemFrame(context.Background(), &frame, item, pool, func(n int) { chunked += n })
	if err != nil {
		t.Fatalf("writeItemFrame: %v", err)
	}
	if chunked != len(payload) {
		t.Errorf("onChunk total = %d, want %d", chunked, len(payload))
	}

	hdr, err := readItemHeader(&frame)
	if err != nil {
		t.Fatalf("readItemHeader: %v", err)
	}
	if hdr.Name != "photo.jpg" {
		t.Errorf("name = %q, want %q", hdr.Name, "photo.jpg")
	}
	if hdr.Kind != manifest.KindApplication {
		t.Errorf("kind = %v, want application", hdr.Kind)
	}
	if hdr.Size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", hdr.Size, len(payload))
	}

	var out bytes.Buffer
	if err := readItemPayload(&frame, &out, hdr.Size, pool); err != nil {
		t.Fatalf("readItemPayload: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Error("payload mismatch after round trip")
	}
}

func TestReadItemPayloadCRCMismatch(t *testing.T) {
	pool := bufpool.New(64)
	item := writeTempItem(t, "notes.txt", []byte("hello portover"))

	var frame bytes.Buffer
	if err := writeItemFrame(context.Background(), &frame, item, pool, nil); err != nil {
		t.Fatalf("writeItemFrame: %v", err)
	}

	// Flip a payload byte past the header.
	raw := frame.Bytes()
	raw[len(raw)-6] ^= 0xFF

	r := bytes.NewReader(raw)
	hdr, err := readItemHeader(r)
	if err != nil {
		t.Fatalf("readItemHeader: %v", err)
	}
	var out bytes.Buffer
	if err := readItemPayload(r, &out, hdr.Size, pool); !errors.Is(err, ErrCRCMismatch) {
		t.Errorf("err = %v, want ErrCRCMismatch", err)
	}
}

func TestReadItemHeaderRejectsBadMagic(t *testing.T) {
	frame := bytes.NewReader([]byte("NOPE\x00\x00\x04name\x00\x00\x00\x00\x00\x00\x00\x00"))
	if _, err := readItemHeader(frame); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestWriteItemFrameCancelled(t *testing.T) {
	pool := bufpool.New(16)
	item := writeTempItem(t, "big.bin", bytes.Repeat([]byte{0xAB}, 256))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var frame bytes.Buffer
	if err := writeItemFrame(ctx, &frame, item, pool, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"photo.jpg", true},
		{"archive.tar.gz", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{`a\b`, false},
	}
	for _, tt := range tests {
		err := validateName(tt.name)
		if tt.ok && err != nil {
			t.Errorf("validateName(%q) = %v, want nil", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("validateName(%q) = nil, want error", tt.name)
		}
	}
}

func TestKindByteRoundTrip(t *testing.T) {
	for _, k := range []manifest.Kind{manifest.KindFile, manifest.KindApplication} {
		if got := kindFromByte(kindByte(k)); got != k {
			t.Errorf("kindFromByte(kindByte(%v)) = %v", k, got)
		}
	}
}
