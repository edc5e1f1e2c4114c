package supervisor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/forgelab/forge/internal/registry"
)

const exitPollInterval = 100 * time.Millisecond

// terminate sends SIGTERM to pid's process group, polls for exit up to wait,
// then escalates to SIGKILL. A process that is already gone is success.
func terminate(pid int, wait time.Duration) error {
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !registry.PIDAlive(pid) {
			return nil
		}
		time.Sleep(exitPollInterval)
	}
	if err := signalGroup(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	// Brief grace for the kernel to tear the process down after SIGKILL.
	for i := 0; i < 20 && registry.PIDAlive(pid); i++ {
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

// signalGroup signals pid's whole process group (children were started with
// their own session, so the group id equals the pid), falling back to the
// single process when no such group exists.
func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if err == nil || !errors.Is(err, unix.ESRCH) {
		return err
	}
	return unix.Kill(pid, sig)
}
