// Package file implements the local envelope spool used when the MQTT broker
// is unreachable. Each envelope is written as one JSON line to a size-rotated
// file, so an operator (or a later re-publish job) can recover telemetry that
// could not be delivered.
//
// Pipeline position:
//
//	publish.Publisher —(broker down / publish error)→ transport/file
//
// Spool satisfies the publisher's local-emit hook.
package file

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	jsonformat "github.com/otsense/otcollector/format/json"
	"github.com/otsense/otcollector/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls Spool behaviour.
type Config struct {
	// FilePath is the active spool file. Empty means spool to Writer instead.
	FilePath string

	// Writer receives envelopes when FilePath is empty. nil = os.Stdout.
	// Used by tests and by the --spool-stdout debugging mode.
	Writer io.Writer

	// MaxBytes triggers rotation when the active file exceeds this size.
	// Zero disables rotation (the file grows without bound).
	MaxBytes int64

	// MaxBackups is the number of rotated files to keep. Zero keeps all.
	MaxBackups int
}

// ─────────────────────────────────────────────────────────────────────────────
// Spool
// ─────────────────────────────────────────────────────────────────────────────

// Spool persists envelopes locally, one JSON line each, rotating the file by
// size. It is safe for concurrent use by all collectors sharing the
// publisher.
type Spool struct {
	mu     sync.Mutex
	cfg    Config
	fmt    jsonformat.Formatter
	file   *os.File // nil when spooling to cfg.Writer
	w      io.Writer
	size   int64
	logger *slog.Logger
}

// NewSpool opens (or creates) the spool file and returns a ready Spool.
// The caller must call Close when finished.
func NewSpool(cfg Config, logger *slog.Logger) (*Spool, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	s := &Spool{
		cfg:    cfg,
		fmt:    jsonformat.New(jsonformat.Config{}, logger),
		logger: logger,
	}
	if cfg.FilePath == "" {
		s.w = cfg.Writer
		if s.w == nil {
			s.w = os.Stdout
		}
		return s, nil
	}

	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transport/file: mkdir %s: %w", dir, err)
	}
	if err := s.openFile(); err != nil {
		return nil, err
	}
	return s, nil
}

// Emit writes one envelope to the spool. It implements the publisher's
// local-emit hook signature.
func (s *Spool) Emit(env models.Envelope) error {
	data, err := s.fmt.Format(&env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil && s.cfg.MaxBytes > 0 && s.size+int64(len(data))+1 > s.cfg.MaxBytes {
		if err := s.rotate(); err != nil {
			s.logger.Error("transport/file: rotate failed", "error", err.Error())
			// Keep writing to the current file rather than losing data.
		}
	}

	w := s.w
	if s.file != nil {
		w = s.file
	}
	n, err := w.Write(append(data, '\n'))
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("transport/file: write: %w", err)
	}
	s.logger.Debug("transport/file: spooled envelope",
		"collector", env.Collector,
		"records", env.Count,
		"bytes", n,
	)
	return nil
}

// Close closes the active spool file, if any.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Rotation
// ─────────────────────────────────────────────────────────────────────────────

// openFile opens (or creates) the active file and records its current size.
func (s *Spool) openFile() error {
	f, err := os.OpenFile(s.cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("transport/file: open %s: %w", s.cfg.FilePath, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("transport/file: stat %s: %w", s.cfg.FilePath, err)
	}
	s.file = f
	s.size = info.Size()
	return nil
}

// rotate renames the active file with numbered suffixes and opens a new one.
//
// Rotation scheme:
//
//	spool.jsonl   → spool.jsonl.1
//	spool.jsonl.1 → spool.jsonl.2
//	...
//	spool.jsonl.N → (removed when N > MaxBackups)
func (s *Spool) rotate() error {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.logger.Warn("transport/file: rotate: close error", "error", err.Error())
		}
		s.file = nil
	}

	base := s.cfg.FilePath
	limit := s.cfg.MaxBackups
	if limit > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", base, limit))
	} else {
		limit = s.findMaxBackup()
	}
	for i := limit; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", base, i), fmt.Sprintf("%s.%d", base, i+1))
	}
	if err := os.Rename(base, base+".1"); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("transport/file: rotate: rename error", "error", err.Error())
	}
	if s.cfg.MaxBackups > 0 {
		s.prune()
	}

	s.logger.Info("transport/file: rotated spool", "file", base)
	s.size = 0
	return s.openFile()
}

// findMaxBackup returns the highest numbered backup that currently exists.
func (s *Spool) findMaxBackup() int {
	max := 0
	for i := 1; ; i++ {
		if _, err := os.Stat(fmt.Sprintf("%s.%d", s.cfg.FilePath, i)); os.IsNotExist(err) {
			break
		}
		max = i
	}
	return max
}

// prune removes backup files beyond MaxBackups.
func (s *Spool) prune() {
	for i := s.cfg.MaxBackups + 1; ; i++ {
		name := fmt.Sprintf("%s.%d", s.cfg.FilePath, i)
		if err := os.Remove(name); err != nil {
			break
		}
		s.logger.Debug("transport/file: pruned old backup", "file", name)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
