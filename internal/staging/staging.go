// Package staging writes in-memory audio to short-lived files for backends
// that only accept file paths, and guarantees those files are removed.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// StorageError reports a failure to write a staged file. It is the one
// condition callers treat as fatal for a request.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("staging %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Stager creates uniquely named files under a directory.
type Stager struct {
	dir     string
	pattern string
	log     *slog.Logger
	clock   func() time.Time
}

// File is a staged file handle. Release is safe to call more than once.
type File struct {
	path     string
	log      *slog.Logger
	released atomic.Bool
}

func New(cfg config.StagingConfig, log *slog.Logger) (*Stager, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &StorageError{Op: "mkdir", Err: err}
	}
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "scribe_*.wav"
	}
	return &Stager{
		dir:     dir,
		pattern: pattern,
		log:     log.With(slog.String("component", "staging")),
		clock:   time.Now,
	}, nil
}

// Dir returns the directory staged files are written to.
func (s *Stager) Dir() string { return s.dir }

// Stage writes data to a new file and returns its handle.
func (s *Stager) Stage(data []byte) (*File, error) {
	f, err := os.CreateTemp(s.dir, s.pattern)
	if err != nil {
		return nil, &StorageError{Op: "create", Err: err}
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, &StorageError{Op: "write", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, &StorageError{Op: "close", Err: err}
	}
	s.log.Debug("staged file", slog.String("path", path), slog.Int("bytes", len(data)))
	return &File{path: path, log: s.log}, nil
}

// With stages data, runs fn with the staged path and removes the file on
// every exit path, including a panic inside fn.
func (s *Stager) With(data []byte, fn func(path string) error) error {
	f, err := s.Stage(data)
	if err != nil {
		return err
	}
	defer f.Release()
	return fn(f.Path())
}

// Sweep removes files matching the staging pattern that are older than age.
// Leftovers only exist when a previous process died mid-request.
func (s *Stager) Sweep(age time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.pattern))
	if err != nil {
		return 0, err
	}
	cutoff := s.clock().Add(-age)
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("sweep failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed, nil
}

func (f *File) Path() string { return f.path }

// Release deletes the staged file. Deletion errors are logged and dropped:
// a stale temp file is not a user-visible failure.
func (f *File) Release() {
	if f == nil || !f.released.CompareAndSwap(false, true) {
		return
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.log.Debug("release staged file", slog.String("path", f.path), slog.String("error", err.Error()))
	}
}
