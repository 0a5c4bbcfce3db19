// Size-based log file rotation
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig configures the rotating file writer.
type RotationConfig struct {
	// Filename is the path of the active log file. Rotated files sit
	// next to it as name.1, name.2, ... with .gz appended when
	// compression is on.
	Filename string

	// MaxSize is the size in megabytes at which the file rolls over.
	// Default 10.
	MaxSize int

	// MaxBackups is how many rotated files are kept. Default 5.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// RotatingFileWriter is an io.Writer that rolls its file over once it
// grows past the configured size. Backups form a numbered ladder,
// newest first. All rotation work happens inline with the triggering
// write; a short-lived command line process gives detached goroutines
// no reliable time to finish.
type RotatingFileWriter struct {
	mu   sync.Mutex
	cfg  RotationConfig
	max  int64 // rollover threshold in bytes
	size int64 // bytes in the active file
	file *os.File
}

// NewRotatingFileWriter opens or creates the configured log file,
// creating its directory if needed.
func NewRotatingFileWriter(cfg RotationConfig) (*RotatingFileWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log rotation needs a filename")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}

	w := &RotatingFileWriter{
		cfg: cfg,
		max: int64(cfg.MaxSize) * 1024 * 1024,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.Filename), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = fi.Size()
	return nil
}

// Write appends to the active file, rolling over first when the write
// would push it past the size limit. A single write larger than the
// whole limit still lands in a fresh file without rotating it.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.max {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// backupName returns the path of the numbered backup slot. Slot 1 holds
// the most recent rotation.
func (w *RotatingFileWriter) backupName(slot int) string {
	return fmt.Sprintf("%s.%d", w.cfg.Filename, slot)
}

// shiftBackup moves one backup a slot up the ladder, whichever of the
// plain or gzipped variant exists.
func shiftBackup(from, to string) {
	if _, err := os.Stat(from); err == nil {
		os.Rename(from, to)
		return
	}
	if _, err := os.Stat(from + ".gz"); err == nil {
		os.Rename(from+".gz", to+".gz")
	}
}

// rotate closes the active file, pushes every backup one slot up the
// ladder dropping the oldest, moves the active file into slot 1 and
// reopens a fresh one. Compression of slot 1 happens before the reopen
// so the ladder never holds a half-written archive.
func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	oldest := w.backupName(w.cfg.MaxBackups)
	os.Remove(oldest)
	os.Remove(oldest + ".gz")
	for slot := w.cfg.MaxBackups - 1; slot >= 1; slot-- {
		shiftBackup(w.backupName(slot), w.backupName(slot+1))
	}

	first := w.backupName(1)
	if err := os.Rename(w.cfg.Filename, first); err != nil {
		// Keep logging into the unrotated file rather than lose output.
		w.open()
		return err
	}
	if w.cfg.Compress {
		if err := compressFile(first); err == nil {
			os.Remove(first)
		}
	}
	return w.open()
}

// compressFile gzips path into path.gz, leaving the source in place for
// the caller to remove.
func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	return dst.Close()
}

// Close closes the active file. Further writes fail.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Sync flushes the active file to stable storage.
func (w *RotatingFileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// CurrentSize returns the size of the active file in bytes.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Filename returns the active file path.
func (w *RotatingFileWriter) Filename() string {
	return w.cfg.Filename
}

// NewFileLogger builds a logger that writes to a rotating file. The
// caller owns the returned writer and should close it on shutdown.
func NewFileLogger(prefix string, cfg RotationConfig) (*Logger, *RotatingFileWriter, error) {
	writer, err := NewRotatingFileWriter(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := New(prefix)
	logger.SetWriter(writer)
	logger.SetColorize(false)
	return logger, writer, nil
}

// MultiWriter fans writes out to several writers, stopping at the
// first error.
type MultiWriter struct {
	writers []io.Writer
}

// NewMultiWriter builds a writer that duplicates writes to all the
// given writers.
func NewMultiWriter(writers ...io.Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write implements io.Writer.
func (mw *MultiWriter) Write(p []byte) (int, error) {
	for _, w := range mw.writers {
		if n, err := w.Write(p); err != nil {
			return n, err
		}
	}
	return len(p), nil
}
