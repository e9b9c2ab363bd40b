package report

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRuns   = []byte("runs")
	bucketFiles  = []byte("files")
	bucketErrors = []byte("errors")
)

// RunRecord is the persisted state of one migration run.
type RunRecord struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	TotalBytes int64      `json:"total_bytes,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// FileRecord is one migrated item within a run.
type FileRecord struct {
	RunID      string    `json:"run_id"`
	Path       string    `json:"path"`
	MigratedAt time.Time `json:"migrated_at"`
}

// ErrorRecord is one per-item failure within a run.
type ErrorRecord struct {
	RunID      string    `json:"run_id"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BoltSink persists migration reports to a bbolt database. Each sink
// instance covers a single run identified by a fresh UUID. Write failures
// are logged and swallowed so reporting never interrupts a transfer.
type BoltSink struct {
	db     *bolt.DB
	logger *slog.Logger
	runID  string
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// OpenBolt opens (or creates) the report database at path and prepares a
// sink for a new run.
func OpenBolt(path string, logger *slog.Logger) (*BoltSink, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open report db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketFiles, bucketErrors} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create report buckets: %w", err)
	}
	return &BoltSink{
		db:     db,
		logger: logger,
		runID:  uuid.NewString(),
		now:    time.Now,
	}, nil
}

// RunID returns the identifier of the run this sink records.
func (s *BoltSink) RunID() string {
	return s.runID
}

// Close closes the underlying database.
func (s *BoltSink) Close() error {
	return s.db.Close()
}

func (s *BoltSink) RecordStart() {
	rec := RunRecord{ID: s.runID, StartedAt: s.now()}
	s.putRun(rec)
}

func (s *BoltSink) RecordTotalSize(bytes int64) {
	s.updateRun(func(rec *RunRecord) { rec.TotalBytes = bytes })
}

func (s *BoltSink) RecordMigratedFile(path string) {
	rec := FileRecord{RunID: s.runID, Path: path, MigratedAt: s.now()}
	s.putSeq(bucketFiles, rec)
}

func (s *BoltSink) RecordError(message string) {
	rec := ErrorRecord{RunID: s.runID, Message: message, OccurredAt: s.now()}
	s.putSeq(bucketErrors, rec)
}

func (s *BoltSink) RecordEnd() {
	s.updateRun(func(rec *RunRecord) {
		ended := s.now()
		rec.EndedAt = &ended
	})
}

// Run loads a persisted run record by ID.
func (s *BoltSink) Run(runID string) (RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketRuns).Get([]byte(runID))
		if raw == nil {
			return fmt.Errorf("run %s not found", runID)
		}
		return json.Unmarshal(raw, &rec)
	})
	return rec, err
}

// Files lists migrated items recorded for a run, in migration order.
func (s *BoltSink) Files(runID string) ([]FileRecord, error) {
	var out []FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var rec FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.RunID == runID {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// Errors lists per-item failures recorded for a run.
func (s *BoltSink) Errors(runID string) ([]ErrorRecord, error) {
	var out []ErrorRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketErrors).ForEach(func(k, v []byte) error {
			var rec ErrorRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.RunID == runID {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltSink) putRun(rec RunRecord) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRuns).Put([]byte(rec.ID), raw)
	})
	if err != nil {
		s.logger.Warn("failed to persist run record", "run_id", s.runID, "error", err)
	}
}

func (s *BoltSink) updateRun(mutate func(*RunRecord)) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		rec := RunRecord{ID: s.runID, StartedAt: s.now()}
		if raw := b.Get([]byte(s.runID)); raw != nil {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
		}
		mutate(&rec)
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(s.runID), raw)
	})
	if err != nil {
		s.logger.Warn("failed to update run record", "run_id", s.runID, "error", err)
	}
}

// putSeq stores rec under a run-scoped monotonic key so iteration keeps
// insertion order.
func (s *BoltSink) putSeq(bucket []byte, rec any) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	key := make([]byte, 0, len(s.runID)+9)
	key = append(key, s.runID...)
	key = append(key, '/')
	key = binary.BigEndian.AppendUint64(key, seq)

	err := s.db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put(key, raw)
	})
	if err != nil {
		s.logger.Warn("failed to persist report record", "run_id", s.runID, "error", err)
	}
}
