package probe

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Reachable reports whether a TCP connection to host:port succeeds within
// timeout. A connect failure of any kind (refused, timeout, resolution)
// counts as unreachable.
func Reachable(host string, port int, timeout time.Duration) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Bindable reports whether port can currently be bound on all interfaces.
// The listener is released immediately; availability is advisory only, a
// racing bind by another process remains possible.
func Bindable(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// WaitReachable polls host:port every interval until it accepts a TCP
// connection, the deadline elapses, or ctx is canceled. It returns the time
// spent waiting and whether the port became reachable.
func WaitReachable(ctx context.Context, host string, port int, interval, deadline time.Duration) (time.Duration, bool) {
	start := time.Now()
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		if Reachable(host, port, interval) {
			return time.Since(start), true
		}
		select {
		case <-ctx.Done():
			return time.Since(start), false
		case <-timer.C:
			return time.Since(start), false
		case <-tick.C:
		}
	}
}
