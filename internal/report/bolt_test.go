package report

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"
)

func testSink(t *testing.T) *BoltSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.db")
	sink, err := OpenBolt(path, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestBoltSinkRecordsRun(t *testing.T) {
	sink := testSink(t)

	sink.RecordStart()
	sink.RecordTotalSize(61)
	sink.RecordMigratedFile("/photos/a.jpg")
	sink.RecordMigratedFile("/photos/b.jpg")
	sink.RecordError("send /photos/c.jpg: broken pipe")
	sink.RecordEnd()

	rec, err := sink.Run(sink.RunID())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.TotalBytes != 61 {
		t.Errorf("total bytes = %d, want 61", rec.TotalBytes)
	}
	if rec.StartedAt.IsZero() {
		t.Error("started_at not recorded")
	}
	if rec.EndedAt == nil {
		t.Error("ended_at not recorded")
	}

	files, err := sink.Files(sink.RunID())
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("file records = %d, want 2", len(files))
	}
	if files[0].Path != "/photos/a.jpg" || files[1].Path != "/photos/b.jpg" {
		t.Errorf("file order = %q, %q", files[0].Path, files[1].Path)
	}

	errs, err := sink.Errors(sink.RunID())
	if err != nil {
		t.Fatalf("Errors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("error records = %d, want 1", len(errs))
	}
}

func TestBoltSinkPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.db")
	logger := slog.New(slog.DiscardHandler)

	first, err := OpenBolt(path, logger)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	first.RecordStart()
	first.RecordTotalSize(1024)
	runID := first.RunID()
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := OpenBolt(path, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	if second.RunID() == runID {
		t.Error("reopened sink reused run id")
	}
	rec, err := second.Run(runID)
	if err != nil {
		t.Fatalf("Run after reopen: %v", err)
	}
	if rec.TotalBytes != 1024 {
		t.Errorf("total bytes = %d, want 1024", rec.TotalBytes)
	}
}

func TestBoltSinkEndWithoutStart(t *testing.T) {
	sink := testSink(t)
	// RecordEnd before RecordStart still produces a usable record.
	sink.RecordEnd()
	rec, err := sink.Run(sink.RunID())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.EndedAt == nil {
		t.Error("ended_at not recorded")
	}
}

func TestLogSinkWrites(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))
	sink.RecordStart()
	sink.RecordTotalSize(10)
	sink.RecordEnd()
	out := buf.String()
	for _, want := range []string{"migration started", "total_bytes=10", "migration ended"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
