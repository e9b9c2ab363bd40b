package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewTotals(t *testing.T) {
	files := []*Item{
		{Path: "/a", Size: 10, Selected: true},
		{Path: "/b", Size: 20, Selected: true, Sent: true},
		{Path: "/c", Size: 30, Selected: true},
	}
	m := New(files, nil, nil, Option{})

	if m.TotalBytes != 61 {
		t.Fatalf("expected total 61 (60 + start sentinel), got %d", m.TotalBytes)
	}
	if m.FileCount != 3 {
		t.Fatalf("expected file count 3, got %d", m.FileCount)
	}
	if m.SentBytes() != 20 {
		t.Fatalf("expected sent bytes 20, got %d", m.SentBytes())
	}
	if m.SentFiles() != 1 {
		t.Fatalf("expected 1 sent file, got %d", m.SentFiles())
	}
}

func TestNewAppsCountTowardTotals(t *testing.T) {
	files := []*Item{{Path: "/a", Size: 5, Selected: true}}
	apps := []*Item{{Path: "/Applications/x.app", Size: 100, Selected: true, Sent: true}}
	m := New(files, apps, nil, Option{})

	if m.TotalBytes != 106 {
		t.Fatalf("expected total 106, got %d", m.TotalBytes)
	}
	if m.SentBytes() != 100 {
		t.Fatalf("expected sent bytes 100, got %d", m.SentBytes())
	}
	if m.Apps[0].Kind != KindApplication {
		t.Fatalf("expected app kind, got %s", m.Apps[0].Kind)
	}
}

func TestComputeIDDeterministic(t *testing.T) {
	a := &Item{Path: "/a", Size: 10, Kind: KindFile}
	b := &Item{Path: "/a", Size: 10, Kind: KindFile}
	c := &Item{Path: "/a", Size: 11, Kind: KindFile}

	if computeID(a) != computeID(b) {
		t.Fatal("expected identical items to hash identically")
	}
	if computeID(a) == computeID(c) {
		t.Fatal("expected different sizes to hash differently")
	}
	if len(computeID(a)) != 16 {
		t.Fatalf("expected 16 hex chars, got %d", len(computeID(a)))
	}
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(path, make([]byte, 1234), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	m, err := Collect([]string{path}, nil, Option{})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(m.Files) != 1 {
		t.Fatalf("expected 1 file item, got %d", len(m.Files))
	}
	if m.Files[0].Size != 1234 {
		t.Fatalf("expected size 1234, got %d", m.Files[0].Size)
	}
	if !m.Files[0].Selected {
		t.Fatal("expected collected items to be selected")
	}
	if m.TotalBytes != 1234+StartSentinelBytes {
		t.Fatalf("unexpected total %d", m.TotalBytes)
	}
}

func TestCollectMissingPath(t *testing.T) {
	_, err := Collect([]string{"/does/not/exist"}, nil, Option{})
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}
