package report

import (
	"log/slog"

	"github.com/portover/portover/internal/migrate"
)

// LogSink writes migration lifecycle events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink wraps logger as a report sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) RecordStart() {
	s.logger.Info("migration started")
}

func (s *LogSink) RecordTotalSize(bytes int64) {
	s.logger.Info("migration size recorded", "total_bytes", bytes)
}

func (s *LogSink) RecordMigratedFile(path string) {
	s.logger.Info("file migrated", "path", path)
}

func (s *LogSink) RecordError(message string) {
	s.logger.Warn("migration item failed", "message", message)
}

func (s *LogSink) RecordEnd() {
	s.logger.Info("migration ended")
}

// MultiSink fans lifecycle events out to several sinks in order.
type MultiSink []migrate.ReportSink

func (m MultiSink) RecordStart() {
	for _, s := range m {
		s.RecordStart()
	}
}

func (m MultiSink) RecordTotalSize(bytes int64) {
	for _, s := range m {
		s.RecordTotalSize(bytes)
	}
}

func (m MultiSink) RecordMigratedFile(path string) {
	for _, s := range m {
		s.RecordMigratedFile(path)
	}
}

func (m MultiSink) RecordError(message string) {
	for _, s := range m {
		s.RecordError(message)
	}
}

func (m MultiSink) RecordEnd() {
	for _, s := range m {
		s.RecordEnd()
	}
}
