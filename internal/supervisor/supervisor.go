package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/forgelab/forge/internal/allocator"
	"github.com/forgelab/forge/internal/history"
	"github.com/forgelab/forge/internal/logger"
	"github.com/forgelab/forge/internal/metrics"
	"github.com/forgelab/forge/internal/probe"
	"github.com/forgelab/forge/internal/registry"
)

var (
	// ErrUnknownSlot is returned when no allocation exists for a name.
	ErrUnknownSlot = errors.New("unknown slot")

	// ErrStartupTimeout is returned when a launched child never became
	// reachable within the startup window. The process is left running with
	// its PID recorded, so a later explicit stop can clean it up.
	ErrStartupTimeout = errors.New("startup timeout")

	// ErrStopFailure is returned when signal delivery failed outright.
	ErrStopFailure = errors.New("stop failure")
)

// State is the observed lifecycle state of a slot. It is derived, never
// persisted: a crashed child is simply observed as Stopped on the next look.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// Config holds the supervisor's timing knobs and child logging destination.
type Config struct {
	Host           string        // probe target host, defaults to 127.0.0.1
	StartupTimeout time.Duration // total wait for a launched child to listen
	PollInterval   time.Duration // reachability poll cadence during startup
	StopTimeout    time.Duration // grace window between SIGTERM and SIGKILL
	RestartDelay   time.Duration // pause between stop and open on restart
	ProbeTimeout   time.Duration // single health probe connect timeout
	ChildLogDir    string        // per-slot stdout/stderr capture directory
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 8 * time.Second
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = time.Second
	}
	return c
}

// OpenResult reports the outcome of an Open call.
type OpenResult struct {
	Record         registry.Record `json:"record"`
	AlreadyRunning bool            `json:"already_running"`
	PID            int             `json:"pid"`
	Startup        time.Duration   `json:"startup"`
}

// SlotStatus is one row of the Console listing.
type SlotStatus struct {
	Name     string `json:"name"`
	Backend  int    `json:"backend"`
	Frontend int    `json:"frontend"`
	PID      int    `json:"pid,omitempty"`
	Up       bool   `json:"up"`
	State    State  `json:"state"`
}

// Supervisor starts, stops, and restarts the child process behind each slot,
// using the registry store for all port and PID bookkeeping. Each operation
// acquires the registry lock only for its brief metadata read/write; startup
// and shutdown waits happen outside the lock so unrelated slots are never
// blocked.
type Supervisor struct {
	store registry.Store
	alloc allocator.Allocator
	cfg   Config
	log   *slog.Logger

	mu         sync.Mutex
	sinks      []history.Sink
	lastAction string
}

// New constructs a Supervisor over the given store and allocator.
func New(store registry.Store, alloc allocator.Allocator, cfg Config) *Supervisor {
	s := &Supervisor{
		store: store,
		alloc: alloc,
		cfg:   cfg.withDefaults(),
		log:   slog.Default(),
	}
	store.SetGCNotify(func(removed []string) {
		for _, name := range removed {
			s.emit(history.EventGCKill, name, 0, "backing directory missing")
		}
	})
	return s
}

// SetLogger overrides the default slog logger.
func (s *Supervisor) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

// SetHistorySinks configures lifecycle event sinks. Passing none clears them.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// LastAction returns a human-readable description of the most recent
// start/stop/restart outcome, for the Console.
func (s *Supervisor) LastAction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAction
}

func (s *Supervisor) setLastAction(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.mu.Lock()
	s.lastAction = msg
	s.mu.Unlock()
}

func (s *Supervisor) emit(typ history.EventType, slot string, pid int, detail string) {
	s.mu.Lock()
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	evt := history.NewEvent(typ, slot, pid, detail)
	for _, sink := range sinks {
		if err := sink.Send(ctx, evt); err != nil {
			s.log.Warn("history sink rejected event", "slot", slot, "type", typ, "error", err)
		}
	}
}

// Ensure registers (or refreshes) a slot handed over by the Generator and
// returns its allocation. Requested ports are honored when valid; zero means
// allocate. Idempotent: an existing slot keeps its ports.
func (s *Supervisor) Ensure(ctx context.Context, name, dir, command string, backend, frontend int) (registry.Record, error) {
	var rec registry.Record
	err := s.store.WithLock(ctx, func(reg *registry.Registry) error {
		r, err := reg.Ensure(s.alloc, name, dir, command, backend, frontend)
		if err != nil {
			return err
		}
		rec = r
		metrics.SetRegisteredSlots(len(reg.Apps))
		return nil
	})
	if err == nil {
		s.setLastAction("Reserved ports %d/%d for %s", rec.Backend, rec.Frontend, name)
	}
	return rec, err
}

// Open ensures the slot's child is running: a no-op when the port is already
// reachable, otherwise launch-and-wait. The reachability check, the launch,
// and the PID write share one locked section so two concurrent opens cannot
// both spawn a child for the same slot. The wait for reachability itself runs
// unlocked.
func (s *Supervisor) Open(ctx context.Context, name string) (OpenResult, error) {
	var res OpenResult
	err := s.store.WithLock(ctx, func(reg *registry.Registry) error {
		rec, ok := reg.Get(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSlot, name)
		}
		res.Record = rec
		res.PID = rec.PID
		if probe.Reachable(s.cfg.Host, rec.Frontend, s.cfg.ProbeTimeout) {
			res.AlreadyRunning = true
			return nil
		}
		pid, err := s.launch(name, rec)
		if err != nil {
			return err
		}
		res.PID = pid
		return reg.SetOwner(name, pid)
	})
	if err != nil {
		s.setLastAction("Failed to open %s: %v", name, err)
		return OpenResult{}, err
	}
	if res.AlreadyRunning {
		s.setLastAction("%s is already running on port %d", name, res.Record.Frontend)
		return res, nil
	}

	elapsed, up := probe.WaitReachable(ctx, s.cfg.Host, res.Record.Frontend, s.cfg.PollInterval, s.cfg.StartupTimeout)
	res.Startup = elapsed
	if !up {
		metrics.IncStartupTimeout(name)
		s.emit(history.EventTimeout, name, res.PID, fmt.Sprintf("not reachable after %s", s.cfg.StartupTimeout))
		s.setLastAction("Timeout: %s did not start within %s", name, s.cfg.StartupTimeout)
		// The child stays running and its PID stays recorded; it may just be
		// slow, and an explicit stop can still find it.
		return res, fmt.Errorf("%w: %s did not become reachable within %s (pid %d left running)",
			ErrStartupTimeout, name, s.cfg.StartupTimeout, res.PID)
	}
	metrics.IncStart(name)
	metrics.ObserveStartupDuration(name, elapsed.Seconds())
	s.emit(history.EventStart, name, res.PID, fmt.Sprintf("reachable after %s", elapsed.Round(time.Millisecond)))
	s.setLastAction("Started %s on port %d in %s", name, res.Record.Frontend, elapsed.Round(time.Millisecond))
	s.log.Info("slot started", "slot", name, "pid", res.PID, "port", res.Record.Frontend, "startup", elapsed)
	return res, nil
}

// launch spawns the slot's start command detached in its backing directory
// and returns the child PID. Called with the registry lock held.
func (s *Supervisor) launch(name string, rec registry.Record) (int, error) {
	if strings.TrimSpace(rec.Command) == "" {
		return 0, fmt.Errorf("slot %s has no start command", name)
	}
	cmd := buildCommand(rec.Command)
	if rec.Dir != "" {
		cmd.Dir = rec.Dir
	}
	cmd.Env = append(os.Environ(),
		"FORGE_SLOT="+name,
		fmt.Sprintf("FORGE_BACKEND_PORT=%d", rec.Backend),
		fmt.Sprintf("FORGE_FRONTEND_PORT=%d", rec.Frontend),
	)
	// New session: the child must outlive this invocation, which is usually
	// a short-lived CLI call or request handler.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	out, errW, err := logger.SlotWriters(s.cfg.ChildLogDir, name)
	if err != nil {
		s.log.Warn("cannot open slot log files, discarding child output", "slot", name, "error", err)
	}
	if out != nil {
		cmd.Stdout = out
		cmd.Stderr = errW
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}
	defer func() {
		// The child holds its own copies after Start.
		if out != nil {
			_ = out.Close()
			_ = errW.Close()
		} else if f, ok := cmd.Stdout.(*os.File); ok {
			_ = f.Close()
		}
	}()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	// Reap the child if this process outlives it; when we exit first, init
	// adopts the detached session.
	go func() { _ = cmd.Wait() }()
	s.log.Info("slot launched", "slot", name, "pid", pid, "dir", rec.Dir)
	return pid, nil
}

// Stop terminates the slot's recorded process with SIGTERM, escalating to
// SIGKILL after the grace window, and clears the recorded PID. A slot with
// no recorded PID succeeds trivially.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	var pid int
	err := s.store.WithLock(ctx, func(reg *registry.Registry) error {
		rec, ok := reg.Get(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSlot, name)
		}
		pid = rec.PID
		return nil
	})
	if err != nil {
		return err
	}
	if pid == 0 {
		s.setLastAction("%s was not running", name)
		return nil
	}

	if registry.PIDAlive(pid) {
		if err := terminate(pid, s.cfg.StopTimeout); err != nil {
			s.setLastAction("Failed to stop %s: %v", name, err)
			return fmt.Errorf("%w: %s (pid %d): %v", ErrStopFailure, name, pid, err)
		}
	}

	err = s.store.WithLock(ctx, func(reg *registry.Registry) error {
		// Only clear the PID we actually stopped; a concurrent open may have
		// recorded a fresh child in the meantime.
		if rec, ok := reg.Get(name); ok && rec.PID == pid {
			reg.ClearOwner(name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.IncStop(name)
	s.emit(history.EventStop, name, pid, "")
	s.setLastAction("Stopped %s", name)
	s.log.Info("slot stopped", "slot", name, "pid", pid)
	return nil
}

// Restart composes Stop and Open with a short pause in between so the OS can
// release the listening port. A stop failure aborts the restart.
func (s *Supervisor) Restart(ctx context.Context, name string) (OpenResult, error) {
	if err := s.Stop(ctx, name); err != nil {
		return OpenResult{}, fmt.Errorf("restart %s: %w", name, err)
	}
	select {
	case <-ctx.Done():
		return OpenResult{}, ctx.Err()
	case <-time.After(s.cfg.RestartDelay):
	}
	res, err := s.Open(ctx, name)
	if err != nil {
		return res, err
	}
	metrics.IncRestart(name)
	s.emit(history.EventRestart, name, res.PID, "")
	return res, nil
}

// Probe performs a single best-effort reachability check against the slot's
// frontend port. It never touches the registry.
func (s *Supervisor) Probe(ctx context.Context, name string) (bool, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	rec, ok := snap.Get(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSlot, name)
	}
	up := probe.Reachable(s.cfg.Host, rec.Frontend, s.cfg.ProbeTimeout)
	metrics.IncProbe(name, up)
	return up, nil
}

// Status returns the slot's allocation together with its observed state.
func (s *Supervisor) Status(ctx context.Context, name string) (SlotStatus, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return SlotStatus{}, err
	}
	rec, ok := snap.Get(name)
	if !ok {
		return SlotStatus{}, fmt.Errorf("%w: %s", ErrUnknownSlot, name)
	}
	return s.statusOf(name, rec), nil
}

// List returns every slot with its ports and up/down state, sorted by name.
// It reads an unlocked snapshot; the result is for display only.
func (s *Supervisor) List(ctx context.Context) ([]SlotStatus, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(snap.Apps))
	for name := range snap.Apps {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]SlotStatus, 0, len(names))
	for _, name := range names {
		rec, _ := snap.Get(name)
		out = append(out, s.statusOf(name, rec))
	}
	metrics.SetRegisteredSlots(len(out))
	return out, nil
}

func (s *Supervisor) statusOf(name string, rec registry.Record) SlotStatus {
	up := probe.Reachable(s.cfg.Host, rec.Frontend, s.cfg.ProbeTimeout)
	state := StateStopped
	switch {
	case up:
		state = StateRunning
	case rec.PID > 0 && registry.PIDAlive(rec.PID):
		// A recorded PID alone never proves the slot is serving; the PID may
		// be reused or the app still booting.
		state = StateStarting
	}
	return SlotStatus{
		Name:     name,
		Backend:  rec.Backend,
		Frontend: rec.Frontend,
		PID:      rec.PID,
		Up:       up,
		State:    state,
	}
}

// Release stops the slot's process (best effort) and deletes its record,
// freeing both ports. The registry removal proceeds even when the stop
// fails, mirroring garbage collection.
func (s *Supervisor) Release(ctx context.Context, name string) error {
	if err := s.Stop(ctx, name); err != nil && !errors.Is(err, ErrUnknownSlot) {
		s.log.Warn("release: stop failed, removing record anyway", "slot", name, "error", err)
	}
	err := s.store.WithLock(ctx, func(reg *registry.Registry) error {
		delete(reg.Apps, name)
		metrics.SetRegisteredSlots(len(reg.Apps))
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(history.EventRelease, name, 0, "")
	s.setLastAction("Released %s", name)
	return nil
}
