// Package daemon provides the process-lifecycle glue around the session
// controller and IPC server: PID-file locking and systemd readiness
// notification.
package daemon

import (
	"fmt"
	"os"
	"strconv"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofrs/flock"
)

// PidFile holds an exclusively-locked PID file for the daemon's
// lifetime. The lock (not just the file's existence) is what guards
// against two daemon instances racing to manage the same session.
type PidFile struct {
	path string
	lock *flock.Flock
}

// AcquirePidFile exclusively locks path, writes the current PID into it,
// and returns a handle to release it on clean shutdown. A failure to
// lock means another daemon instance already holds it.
func AcquirePidFile(path string) (*PidFile, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock pid file %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("pid file %s is held by another instance", path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("write pid file %s: %w", path, err)
	}

	return &PidFile{path: path, lock: lock}, nil
}

// Release unlocks and removes the PID file. Safe to call once on clean
// exit; a crash leaves the file behind, and the next instance's
// AcquirePidFile locks and overwrites it (the lock itself, not the file's
// presence, is authoritative, so a stale file never blocks a fresh start).
func (p *PidFile) Release() error {
	defer p.lock.Close()
	if err := p.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock pid file %s: %w", p.path, err)
	}
	return os.Remove(p.path)
}

// NotifyReady tells systemd (when running under it, i.e. NOTIFY_SOCKET
// is set) that startup recovery has completed and the daemon is ready to
// accept commands. It is a no-op outside systemd.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd the daemon is beginning a graceful
// shutdown.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
