package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// DefaultLockTimeout bounds how long WithLock waits for the exclusive
	// file lock before reporting contention.
	DefaultLockTimeout = 5 * time.Second

	lockRetryInterval = 50 * time.Millisecond
)

// FileStore persists the registry as a single JSON file, guarded by a
// sibling lock file. The lock file, not the data file, carries the flock so
// that a crashed writer can never leave the data file half-locked. A missing
// or unparsable data file loads as an empty registry; the anomaly is logged
// but not fatal, so a corrupted registry self-heals on the next write.
type FileStore struct {
	Path        string
	LockPath    string
	LockTimeout time.Duration
	Logger      *slog.Logger

	onGC func([]string)
}

// NewFileStore returns a FileStore for path with the lock file placed next
// to it (path + ".lock").
func NewFileStore(path string) *FileStore {
	return &FileStore{
		Path:        path,
		LockPath:    path + ".lock",
		LockTimeout: DefaultLockTimeout,
		Logger:      slog.Default(),
	}
}

func (s *FileStore) lockTimeout() time.Duration {
	if s.LockTimeout > 0 {
		return s.LockTimeout
	}
	return DefaultLockTimeout
}

func (s *FileStore) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// acquireLock opens the lock file and takes an exclusive flock, retrying
// non-blocking attempts until the timeout or ctx cancellation.
func (s *FileStore) acquireLock(ctx context.Context) (int, error) {
	if err := os.MkdirAll(filepath.Dir(s.LockPath), 0o750); err != nil {
		return -1, fmt.Errorf("create lock dir: %w", err)
	}
	fd, err := unix.Open(s.LockPath, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open lock file %s: %w", s.LockPath, err)
	}
	deadline := time.Now().Add(s.lockTimeout())
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return fd, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("flock %s: %w", s.LockPath, err)
		}
		if time.Now().After(deadline) {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("%w: %s", ErrLockTimeout, s.LockPath)
		}
		select {
		case <-ctx.Done():
			_ = unix.Close(fd)
			return -1, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func releaseLock(fd int) {
	_ = unix.Flock(fd, unix.LOCK_UN)
	_ = unix.Close(fd)
}

// load reads the data file. Missing or corrupt content yields an empty
// registry rather than an error.
func (s *FileStore) load() *Registry {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log().Warn("registry file unreadable, starting empty", "path", s.Path, "error", err)
		}
		return NewRegistry()
	}
	reg := NewRegistry()
	if err := json.Unmarshal(b, reg); err != nil {
		s.log().Warn("registry file corrupt, starting empty", "path", s.Path, "error", err)
		return NewRegistry()
	}
	if reg.Apps == nil {
		reg.Apps = make(map[string]*Record)
	}
	return reg
}

// save writes the registry atomically via a temp file and rename.
func (s *FileStore) save(reg *Registry) error {
	b, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

// WithLock implements Store. Garbage collection runs before fn sees the
// registry, and the registry is saved afterwards even when fn left it
// unchanged so GC removals always persist.
func (s *FileStore) WithLock(ctx context.Context, fn func(*Registry) error) error {
	fd, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer releaseLock(fd)

	reg := s.load()
	removed := reg.garbageCollect(s.log())
	if len(removed) > 0 && s.onGC != nil {
		s.onGC(removed)
	}
	if err := fn(reg); err != nil {
		return err
	}
	return s.save(reg)
}

// SetGCNotify implements Store. Must be set before concurrent use begins.
func (s *FileStore) SetGCNotify(fn func(removed []string)) {
	s.onGC = fn
}

// Snapshot implements Store with an unlocked read. It never garbage
// collects and tolerates a torn or corrupt file by returning what it can.
func (s *FileStore) Snapshot(_ context.Context) (*Registry, error) {
	return s.load(), nil
}
