package forge

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/forgelab/forge/internal/allocator"
	cfg "github.com/forgelab/forge/internal/config"
	"github.com/forgelab/forge/internal/history"
	"github.com/forgelab/forge/internal/metrics"
	"github.com/forgelab/forge/internal/registry"
	iapi "github.com/forgelab/forge/internal/server"
	"github.com/forgelab/forge/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = registry.Record

type SlotStatus = supervisor.SlotStatus

type OpenResult = supervisor.OpenResult

type SuperviseConfig = supervisor.Config

type HistorySink = history.Sink

var (
	ErrUnknownSlot    = supervisor.ErrUnknownSlot
	ErrStartupTimeout = supervisor.ErrStartupTimeout
	ErrPortExhaustion = allocator.ErrPortExhaustion
	ErrLockTimeout    = registry.ErrLockTimeout
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct{ inner *supervisor.Supervisor }

// New builds a Supervisor backed by a lock-guarded JSON registry file.
// Sibling lock file and default timeouts follow the path.
func New(registryPath string, portMin, portMax int, sc SuperviseConfig, reserved ...int) *Supervisor {
	store := registry.NewFileStore(registryPath)
	return &Supervisor{inner: supervisor.New(store, allocator.New(portMin, portMax, reserved...), sc)}
}

// NewInMemory builds a Supervisor with a process-local registry, useful for
// tests and single-process embedding.
func NewInMemory(portMin, portMax int, sc SuperviseConfig, reserved ...int) *Supervisor {
	return &Supervisor{inner: supervisor.New(registry.NewMemStore(), allocator.New(portMin, portMax, reserved...), sc)}
}

func (s *Supervisor) SetLogger(l *slog.Logger)             { s.inner.SetLogger(l) }
func (s *Supervisor) SetHistorySinks(sinks ...HistorySink) { s.inner.SetHistorySinks(sinks...) }
func (s *Supervisor) LastAction() string                   { return s.inner.LastAction() }

func (s *Supervisor) Ensure(ctx context.Context, name, dir, command string, backend, frontend int) (Record, error) {
	return s.inner.Ensure(ctx, name, dir, command, backend, frontend)
}
func (s *Supervisor) Open(ctx context.Context, name string) (OpenResult, error) {
	return s.inner.Open(ctx, name)
}
func (s *Supervisor) Stop(ctx context.Context, name string) error { return s.inner.Stop(ctx, name) }
func (s *Supervisor) Restart(ctx context.Context, name string) (OpenResult, error) {
	return s.inner.Restart(ctx, name)
}
func (s *Supervisor) Probe(ctx context.Context, name string) (bool, error) {
	return s.inner.Probe(ctx, name)
}
func (s *Supervisor) Status(ctx context.Context, name string) (SlotStatus, error) {
	return s.inner.Status(ctx, name)
}
func (s *Supervisor) List(ctx context.Context) ([]SlotStatus, error) { return s.inner.List(ctx) }
func (s *Supervisor) Release(ctx context.Context, name string) error {
	return s.inner.Release(ctx, name)
}

func LoadConfig(path string) (cfg.Config, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing the internal API using the given supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
