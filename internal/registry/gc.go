package registry

import (
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// garbageCollect drops every record whose backing directory no longer exists
// and sends SIGTERM to any process still recorded for it. It runs on every
// locked load, so a registry accumulated across many generate/delete cycles
// cannot leak port reservations or orphan children indefinitely. Kill
// failures are logged and never block removal; a lingering orphan is better
// than a registry that cannot self-heal.
func (r *Registry) garbageCollect(log *slog.Logger) (removed []string) {
	for name, rec := range r.Apps {
		if rec.Dir == "" {
			continue
		}
		if _, err := os.Stat(rec.Dir); err == nil {
			continue
		}
		if rec.PID > 0 && PIDAlive(rec.PID) {
			if err := unix.Kill(rec.PID, unix.SIGTERM); err != nil {
				log.Warn("failed to terminate orphaned process",
					"slot", name, "pid", rec.PID, "error", err)
			} else {
				log.Info("terminated orphaned process", "slot", name, "pid", rec.PID)
			}
		}
		delete(r.Apps, name)
		removed = append(removed, name)
		log.Info("removed stale slot record", "slot", name, "dir", rec.Dir)
	}
	return removed
}

// PIDAlive reports whether a process with the given PID exists, using the
// null signal. A true result does not prove the PID still belongs to the
// child we started; callers must corroborate with a port probe before
// reporting a slot as running.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
