package manifest

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
)

// Kind classifies a transfer item.
type Kind string

const (
	KindFile        Kind = "file"
	KindApplication Kind = "application"
	KindPreference  Kind = "preference"
)

// StartSentinelBytes is the fixed one-byte bias counted toward the total.
// The peer treats the first byte of a run as a "started" marker, so the
// migration size announced to it (and used as the progress denominator)
// includes it.
const StartSentinelBytes = 1

// Item represents a single file or application slated for transfer.
// Items are owned by the Manifest; only the orchestrator flips Sent,
// and only after a confirmed successful send.
type Item struct {
	Path     string `json:"path"`     // Source path on this device
	Size     int64  `json:"size"`     // Size in bytes
	Selected bool   `json:"selected"` // Participates in this run
	Sent     bool   `json:"sent"`     // Terminal success marker, never cleared mid-run
	Kind     Kind   `json:"kind"`
	ID       string `json:"id"` // Deterministic ID (16 hex chars)
}

// Option carries the transfer-option flags for a run.
type Option struct {
	// MigratePreferences indicates the peer must also migrate preference
	// items, which implies a reboot on its side after completion.
	MigratePreferences bool `json:"migrate_preferences"`
}

// Manifest is the ordered set of items for one migration run.
// TotalBytes is fixed at construction and is the progress denominator for
// the whole run; it is never recomputed mid-run.
type Manifest struct {
	Files      []*Item `json:"files"`
	Apps       []*Item `json:"apps"`
	Prefs      []*Item `json:"prefs"`
	TotalBytes int64   `json:"total_bytes"` // Sum of file+app sizes plus the start sentinel
	FileCount  int     `json:"file_count"`  // Number of file+app items
	Option     Option  `json:"option"`
}

// New builds a manifest from pre-constructed item lists.
// Totals cover file and application items; preference items only gate the
// peer's reboot behavior and carry no transferable bytes of their own.
func New(files, apps, prefs []*Item, opt Option) *Manifest {
	m := &Manifest{
		Files:  files,
		Apps:   apps,
		Prefs:  prefs,
		Option: opt,
	}
	for _, it := range files {
		it.Kind = KindFile
		m.TotalBytes += it.Size
		m.FileCount++
	}
	for _, it := range apps {
		it.Kind = KindApplication
		m.TotalBytes += it.Size
		m.FileCount++
	}
	for _, it := range prefs {
		it.Kind = KindPreference
	}
	m.TotalBytes += StartSentinelBytes
	for _, it := range m.Files {
		it.ID = computeID(it)
	}
	for _, it := range m.Apps {
		it.ID = computeID(it)
	}
	return m
}

// Collect stats the given paths and builds a manifest with every item
// selected. Order of the input slices is preserved: it is the send order.
func Collect(filePaths, appPaths []string, opt Option) (*Manifest, error) {
	files, err := collectItems(filePaths)
	if err != nil {
		return nil, err
	}
	apps, err := collectItems(appPaths)
	if err != nil {
		return nil, err
	}
	return New(files, apps, nil, opt), nil
}

func collectItems(paths []string) ([]*Item, error) {
	items := make([]*Item, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve path %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("path does not exist: %s", p)
			}
			return nil, fmt.Errorf("cannot access path %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("directories are not transferable items: %s", p)
		}
		items = append(items, &Item{
			Path:     abs,
			Size:     info.Size(),
			Selected: true,
		})
	}
	return items, nil
}

// SentBytes returns the sum of sizes of items already marked sent across the
// file and application lists. It is the resume offset for a manifest that
// carries prior progress.
func (m *Manifest) SentBytes() int64 {
	var n int64
	for _, it := range m.Files {
		if it.Sent {
			n += it.Size
		}
	}
	for _, it := range m.Apps {
		if it.Sent {
			n += it.Size
		}
	}
	return n
}

// SentFiles returns the number of file and application items already sent.
func (m *Manifest) SentFiles() int {
	n := 0
	for _, it := range m.Files {
		if it.Sent {
			n++
		}
	}
	for _, it := range m.Apps {
		if it.Sent {
			n++
		}
	}
	return n
}

// computeID generates a deterministic 16-character hex ID for an item.
// Uses FNV-1a 64-bit hash of: Path + "|" + Size + "|" + Kind
func computeID(it *Item) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s", it.Path, it.Size, it.Kind)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, h.Sum64())
	return hex.EncodeToString(buf)
}
