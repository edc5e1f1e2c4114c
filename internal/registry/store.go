package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrLockTimeout is returned when the exclusive registry lock cannot be
// acquired within the configured bound. Callers should retry rather than
// bypass the lock; an unguarded write can corrupt the shared file.
var ErrLockTimeout = errors.New("timed out waiting for registry lock")

// Store serializes read-modify-write access to the registry. WithLock is the
// only sanctioned mutation path: it loads the registry, garbage collects
// stale records, hands the result to fn, and persists whatever fn left
// behind. The lock is released even when fn fails, and fn's error aborts the
// save. Snapshot is an unlocked best-effort read for display; it must never
// feed an allocation decision.
type Store interface {
	WithLock(ctx context.Context, fn func(*Registry) error) error
	Snapshot(ctx context.Context) (*Registry, error)
	// SetGCNotify registers a callback invoked with the names of records
	// garbage collection removed during a WithLock, before fn runs.
	SetGCNotify(fn func(removed []string))
}

// MemStore is an in-memory Store for tests and embedding. Garbage collection
// runs on every WithLock, same as the file-backed store.
type MemStore struct {
	mu     sync.Mutex
	reg    *Registry
	logger *slog.Logger
	onGC   func([]string)
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{reg: NewRegistry(), logger: slog.Default()}
}

func (s *MemStore) WithLock(ctx context.Context, fn func(*Registry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// fn works on a copy so a failed mutation leaves the registry untouched,
	// matching the file-backed store where fn's error aborts the save.
	work := s.reg.Clone()
	removed := work.garbageCollect(s.logger)
	if len(removed) > 0 && s.onGC != nil {
		s.onGC(removed)
	}
	if err := fn(work); err != nil {
		return err
	}
	s.reg = work
	return nil
}

func (s *MemStore) SetGCNotify(fn func(removed []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onGC = fn
}

func (s *MemStore) Snapshot(_ context.Context) (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Clone(), nil
}
