// Package statefile provides crash-safe persistence for a single JSON
// document shared between processes. Reads always observe either the fully
// old or fully new document because writes go through a temp file and an
// atomic rename; read-modify-write sequences are serialized through the
// document's cross-process lock.
package statefile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/crowdwork/workq/internal/errors"
	"github.com/crowdwork/workq/internal/lockfile"
	"github.com/crowdwork/workq/internal/logging"
)

// Rename retry parameters. Rename-over-open-file can fail transiently on
// Windows when a reader holds the target open.
const (
	renameAttempts = 3
	renameBackoff  = 100 * time.Millisecond
)

// settings holds the tunables shared by all Store instantiations.
type settings struct {
	lockTimeout  time.Duration
	lockStaleAge time.Duration
	logger       *logging.Logger
}

// Option configures a Store.
type Option func(*settings)

// WithLockTimeout sets how long Update waits for the document lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *settings) { s.lockTimeout = d }
}

// WithLockStaleAge sets the age past which a held document lock is broken.
func WithLockStaleAge(d time.Duration) Option {
	return func(s *settings) { s.lockStaleAge = d }
}

// WithLogger sets the logger used for corruption warnings.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// Store persists one JSON document of type T at a fixed path. The zero
// value of T is the empty document.
type Store[T any] struct {
	path     string
	lockPath string
	settings settings
}

// New creates a Store for the document at path. The paired lock file is
// path + ".lock".
func New[T any](path string, opts ...Option) *Store[T] {
	s := settings{
		lockTimeout:  lockfile.DefaultTimeout,
		lockStaleAge: lockfile.DefaultStaleAge,
		logger:       logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Store[T]{
		path:     path,
		lockPath: path + ".lock",
		settings: s,
	}
}

// Path returns the document path.
func (s *Store[T]) Path() string { return s.path }

// LockPath returns the path of the paired lock file.
func (s *Store[T]) LockPath() string { return s.lockPath }

// Load reads the current document. A missing or unparseable file yields
// the zero document: corrupted state is recoverable, never fatal. Load
// does not take the lock; the atomic rename in Save guarantees a reader
// never observes a partial write.
func (s *Store[T]) Load() (T, error) {
	var doc T

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, errors.Wrap(err, "read state file")
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		s.settings.logger.Warn("state document corrupted, treating as empty",
			"path", s.path,
			"parse_error", err.Error(),
		)
		var zero T
		return zero, nil
	}
	return doc, nil
}

// Save serializes the document to a temp file in the same directory and
// atomically renames it over the target.
func (s *Store[T]) Save(doc T) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create state directory")
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return errors.Wrap(err, "set permissions")
	}

	if err := renameWithRetry(tmpPath, s.path); err != nil {
		return err
	}

	success = true
	return nil
}

// Update performs a lock → load → mutate → save sequence. The lock is
// scoped tightly around the sequence and released on every exit path.
// If fn returns an error the document is left unchanged.
func (s *Store[T]) Update(fn func(*T) error) error {
	return lockfile.WithLock(s.lockPath, s.settings.lockTimeout, s.settings.lockStaleAge, func() error {
		doc, err := s.Load()
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return s.Save(doc)
	})
}

// View runs fn against a snapshot of the document without taking the lock.
// Suitable for pure reads.
func (s *Store[T]) View(fn func(T) error) error {
	doc, err := s.Load()
	if err != nil {
		return err
	}
	return fn(doc)
}

// renameWithRetry renames tmpPath over target, retrying transient
// failures before surfacing the error.
func renameWithRetry(tmpPath, target string) error {
	var err error
	for attempt := 0; attempt < renameAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(renameBackoff)
		}
		if err = os.Rename(tmpPath, target); err == nil {
			return nil
		}
	}
	return errors.Wrap(err, "rename temp file")
}
