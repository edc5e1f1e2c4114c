package probe

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenAnyPort(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestReachable(t *testing.T) {
	ln, port := listenAnyPort(t)
	defer func() { _ = ln.Close() }()

	require.True(t, Reachable("127.0.0.1", port, time.Second))

	_ = ln.Close()
	require.False(t, Reachable("127.0.0.1", port, 200*time.Millisecond))
}

func TestBindable(t *testing.T) {
	ln, port := listenAnyPort(t)
	require.False(t, Bindable(port))
	_ = ln.Close()
	require.True(t, Bindable(port))
}

func TestWaitReachable_LateListener(t *testing.T) {
	ln, port := listenAnyPort(t)
	_ = ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(200 * time.Millisecond)
		late, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return
		}
		time.Sleep(2 * time.Second)
		_ = late.Close()
	}()
	defer func() { <-done }()

	elapsed, ok := WaitReachable(context.Background(), "127.0.0.1", port, 50*time.Millisecond, 3*time.Second)
	require.True(t, ok)
	require.Less(t, elapsed, 3*time.Second)
}

func TestWaitReachable_Timeout(t *testing.T) {
	ln, port := listenAnyPort(t)
	_ = ln.Close()

	start := time.Now()
	_, ok := WaitReachable(context.Background(), "127.0.0.1", port, 50*time.Millisecond, 300*time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestWaitReachable_Canceled(t *testing.T) {
	ln, port := listenAnyPort(t)
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, ok := WaitReachable(ctx, "127.0.0.1", port, 50*time.Millisecond, 5*time.Second)
	require.False(t, ok)
}
