package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelab/forge/internal/allocator"
	"github.com/forgelab/forge/internal/registry"
)

// TestHelperListener is not a real test: when re-executed as a slot start
// command it listens on FORGE_FRONTEND_PORT until killed. In a normal test
// run the env guard makes it return immediately.
func TestHelperListener(t *testing.T) {
	if os.Getenv("FORGE_HELPER_LISTEN") != "1" {
		return
	}
	port, err := strconv.Atoi(os.Getenv("FORGE_FRONTEND_PORT"))
	if err != nil {
		os.Exit(1)
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = ln.Close() }()
	time.Sleep(60 * time.Second)
}

func helperCommand() string {
	return fmt.Sprintf("%s -test.run=^TestHelperListener$", os.Args[0])
}

func testConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		StartupTimeout: 5 * time.Second,
		PollInterval:   100 * time.Millisecond,
		StopTimeout:    2 * time.Second,
		RestartDelay:   100 * time.Millisecond,
		ProbeTimeout:   200 * time.Millisecond,
	}
}

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *registry.MemStore) {
	t.Helper()
	store := registry.NewMemStore()
	sup := New(store, allocator.New(45000, 45200), cfg)
	return sup, store
}

func recordedPID(t *testing.T, store registry.Store, name string) int {
	t.Helper()
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	rec, ok := snap.Get(name)
	require.True(t, ok)
	return rec.PID
}

func TestOpen_UnknownSlot(t *testing.T) {
	sup, _ := newTestSupervisor(t, testConfig())
	_, err := sup.Open(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUnknownSlot)
}

func TestOpen_IdempotentWhenReachable(t *testing.T) {
	sup, store := newTestSupervisor(t, testConfig())
	ctx := context.Background()

	rec, err := sup.Ensure(ctx, "alpha", "", "/bin/false", 0, 0)
	require.NoError(t, err)

	// Something is already listening on alpha's frontend port.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(rec.Frontend)))
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	res, err := sup.Open(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
	assert.Zero(t, recordedPID(t, store, "alpha"), "no process must be launched")

	// Second open is just as idempotent.
	res, err = sup.Open(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
}

func TestOpen_StartsChildUntilReachable(t *testing.T) {
	t.Setenv("FORGE_HELPER_LISTEN", "1")
	sup, store := newTestSupervisor(t, testConfig())
	ctx := context.Background()

	_, err := sup.Ensure(ctx, "alpha", "", helperCommand(), 0, 0)
	require.NoError(t, err)

	res, err := sup.Open(ctx, "alpha")
	require.NoError(t, err)
	defer func() { _ = sup.Stop(ctx, "alpha") }()

	assert.False(t, res.AlreadyRunning)
	assert.Greater(t, res.PID, 0)
	assert.Less(t, res.Startup, testConfig().StartupTimeout)
	assert.Equal(t, res.PID, recordedPID(t, store, "alpha"))

	up, err := sup.Probe(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, up)

	require.NoError(t, sup.Stop(ctx, "alpha"))
	assert.Zero(t, recordedPID(t, store, "alpha"))
	assert.False(t, registry.PIDAlive(res.PID))

	up, err = sup.Probe(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, up)
}

func TestOpen_StartupTimeoutLeavesProcessRunning(t *testing.T) {
	cfg := testConfig()
	cfg.StartupTimeout = 700 * time.Millisecond
	sup, store := newTestSupervisor(t, cfg)
	ctx := context.Background()

	// A child that never listens.
	_, err := sup.Ensure(ctx, "gamma", "", "sleep 60", 0, 0)
	require.NoError(t, err)

	res, err := sup.Open(ctx, "gamma")
	require.ErrorIs(t, err, ErrStartupTimeout)
	require.Greater(t, res.PID, 0)

	// The hung process is left running and its PID stays recorded so a
	// later stop can find it.
	assert.Equal(t, res.PID, recordedPID(t, store, "gamma"))
	assert.True(t, registry.PIDAlive(res.PID))

	require.NoError(t, sup.Stop(ctx, "gamma"))
	assert.Zero(t, recordedPID(t, store, "gamma"))
	assert.False(t, registry.PIDAlive(res.PID))

	up, err := sup.Probe(ctx, "gamma")
	require.NoError(t, err)
	assert.False(t, up)
}

func TestOpen_NoStartCommandFailsFast(t *testing.T) {
	sup, store := newTestSupervisor(t, testConfig())
	ctx := context.Background()

	_, err := sup.Ensure(ctx, "alpha", "", "", 0, 0)
	require.NoError(t, err)

	begin := time.Now()
	_, err = sup.Open(ctx, "alpha")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no start command")
	assert.Less(t, time.Since(begin), testConfig().StartupTimeout,
		"must fail before the startup wait, not after it")
	assert.Zero(t, recordedPID(t, store, "alpha"), "nothing must be spawned or recorded")
}

func TestStop_NoRecordedPID(t *testing.T) {
	sup, store := newTestSupervisor(t, testConfig())
	ctx := context.Background()

	before, err := sup.Ensure(ctx, "alpha", "", "", 0, 0)
	require.NoError(t, err)

	require.NoError(t, sup.Stop(ctx, "alpha"))

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	after, ok := snap.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, before, after, "trivial stop must leave the record unchanged")
}

func TestStop_UnknownSlot(t *testing.T) {
	sup, _ := newTestSupervisor(t, testConfig())
	require.ErrorIs(t, sup.Stop(context.Background(), "ghost"), ErrUnknownSlot)
}

func TestStop_StaleDeadPID(t *testing.T) {
	sup, store := newTestSupervisor(t, testConfig())
	ctx := context.Background()

	_, err := sup.Ensure(ctx, "alpha", "", "", 0, 0)
	require.NoError(t, err)
	require.NoError(t, store.WithLock(ctx, func(reg *registry.Registry) error {
		return reg.SetOwner("alpha", 1<<22) // almost certainly no such process
	}))

	require.NoError(t, sup.Stop(ctx, "alpha"))
	assert.Zero(t, recordedPID(t, store, "alpha"))
}

// hookedStore wraps a MemStore and runs a callback before the second
// WithLock, to interleave another writer between a Stop's two locked
// sections.
type hookedStore struct {
	*registry.MemStore
	calls    int
	onSecond func()
}

func (h *hookedStore) WithLock(ctx context.Context, fn func(*registry.Registry) error) error {
	h.calls++
	if h.calls == 2 && h.onSecond != nil {
		h.onSecond()
	}
	return h.MemStore.WithLock(ctx, fn)
}

func TestStop_KeepsFreshPIDFromConcurrentOpen(t *testing.T) {
	inner := registry.NewMemStore()
	store := &hookedStore{MemStore: inner}
	sup := New(store, allocator.New(45000, 45200), testConfig())
	ctx := context.Background()

	_, err := sup.Ensure(ctx, "alpha", "", "", 0, 0)
	require.NoError(t, err)
	stale := 1 << 22 // almost certainly no such process
	require.NoError(t, inner.WithLock(ctx, func(reg *registry.Registry) error {
		return reg.SetOwner("alpha", stale)
	}))

	// Between Stop's kill and its bookkeeping write, a concurrent open
	// records a fresh child. Stop must not wipe it out.
	fresh := os.Getpid()
	store.calls = 0
	store.onSecond = func() {
		require.NoError(t, inner.WithLock(ctx, func(reg *registry.Registry) error {
			return reg.SetOwner("alpha", fresh)
		}))
	}

	require.NoError(t, sup.Stop(ctx, "alpha"))
	assert.Equal(t, fresh, recordedPID(t, store, "alpha"))
}

func TestRestart_StartsStoppedSlot(t *testing.T) {
	t.Setenv("FORGE_HELPER_LISTEN", "1")
	sup, _ := newTestSupervisor(t, testConfig())
	ctx := context.Background()

	_, err := sup.Ensure(ctx, "alpha", "", helperCommand(), 0, 0)
	require.NoError(t, err)

	res, err := sup.Restart(ctx, "alpha")
	require.NoError(t, err)
	defer func() { _ = sup.Stop(ctx, "alpha") }()
	assert.Greater(t, res.PID, 0)

	up, err := sup.Probe(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, up)
}

func TestRestart_ReplacesRunningChild(t *testing.T) {
	t.Setenv("FORGE_HELPER_LISTEN", "1")
	sup, _ := newTestSupervisor(t, testConfig())
	ctx := context.Background()

	_, err := sup.Ensure(ctx, "alpha", "", helperCommand(), 0, 0)
	require.NoError(t, err)

	first, err := sup.Open(ctx, "alpha")
	require.NoError(t, err)
	defer func() { _ = sup.Stop(ctx, "alpha") }()

	second, err := sup.Restart(ctx, "alpha")
	require.NoError(t, err)
	assert.NotEqual(t, first.PID, second.PID)
	assert.False(t, registry.PIDAlive(first.PID), "old child must be gone")
}

func TestProbe_UnknownSlot(t *testing.T) {
	sup, _ := newTestSupervisor(t, testConfig())
	_, err := sup.Probe(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUnknownSlot)
}

func TestStatusAndList(t *testing.T) {
	sup, _ := newTestSupervisor(t, testConfig())
	ctx := context.Background()

	recA, err := sup.Ensure(ctx, "alpha", "", "", 0, 0)
	require.NoError(t, err)
	_, err = sup.Ensure(ctx, "beta", "", "", 0, 0)
	require.NoError(t, err)

	st, err := sup.Status(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", st.Name)
	assert.Equal(t, recA.Backend, st.Backend)
	assert.Equal(t, recA.Frontend, st.Frontend)
	assert.False(t, st.Up)
	assert.Equal(t, StateStopped, st.State)

	// Bring alpha "up" with a plain listener.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(recA.Frontend)))
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	list, err := sup.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "beta", list[1].Name)
	assert.True(t, list[0].Up)
	assert.Equal(t, StateRunning, list[0].State)
	assert.False(t, list[1].Up)
}

func TestRelease_RemovesRecord(t *testing.T) {
	sup, store := newTestSupervisor(t, testConfig())
	ctx := context.Background()

	_, err := sup.Ensure(ctx, "alpha", "", "", 0, 0)
	require.NoError(t, err)

	require.NoError(t, sup.Release(ctx, "alpha"))
	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	_, ok := snap.Get("alpha")
	assert.False(t, ok)
}

func TestLastAction(t *testing.T) {
	sup, _ := newTestSupervisor(t, testConfig())
	ctx := context.Background()

	_, err := sup.Ensure(ctx, "alpha", "", "", 0, 0)
	require.NoError(t, err)
	require.NoError(t, sup.Stop(ctx, "alpha"))
	assert.Contains(t, sup.LastAction(), "alpha")
}
