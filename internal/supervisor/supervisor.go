// Package supervisor starts, stops, and sweeps the worker processes a
// compiled strategy describes, one per queue.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zapretctl/zapret-ng/internal/errs"
	"github.com/zapretctl/zapret-ng/internal/strategy"
)

// gracePeriod is how long Stop waits for SIGTERM before escalating to
// SIGKILL against the process group.
const gracePeriod = 5 * time.Second

// WorkerHandle is the supervisor's record of one spawned worker.
type WorkerHandle struct {
	Pid       int
	Pgid      int
	QueueNum  int
	Args      []string
	StartedAt time.Time
}

// Supervisor owns the set of live worker processes for the active
// session. All mutation of the handle table is serialized by mu; Start
// spawns workers one after another, while Stop fans the per-queue
// shutdown out with errgroup.
type Supervisor struct {
	binaryPath string
	logger     *slog.Logger

	mu      sync.Mutex
	workers []*workerProc
}

type workerProc struct {
	cmd    *exec.Cmd
	handle WorkerHandle
}

// New creates a supervisor driving binaryPath.
func New(binaryPath string, logger *slog.Logger) *Supervisor {
	return &Supervisor{binaryPath: binaryPath, logger: logger}
}

// Start spawns one worker per WorkerSpec, each in its own process group.
// If any spawn fails, every worker already started in this call is torn
// down before Start returns the wrapped failure — starting a session is
// all-or-nothing.
func (s *Supervisor) Start(ctx context.Context, specs []strategy.WorkerSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := make([]*workerProc, 0, len(specs))
	for _, spec := range specs {
		wp, err := s.spawn(spec)
		if err != nil {
			s.killLocked(started)
			return errs.New(errs.ProcessManagement, err, "operation", "start", "queue", spec.QueueNum)
		}
		started = append(started, wp)
	}

	s.workers = started
	return nil
}

func (s *Supervisor) spawn(spec strategy.WorkerSpec) (*workerProc, error) {
	args := append([]string{"--qnum", strconv.Itoa(spec.QueueNum)}, spec.Args...)
	cmd := exec.Command(s.binaryPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	s.logger.Info("starting worker",
		slog.Int("queue", spec.QueueNum),
		slog.String("binary", s.binaryPath),
		slog.String("args", strings.Join(args, " ")),
	)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn queue %d: %w", spec.QueueNum, err)
	}

	return &workerProc{
		cmd: cmd,
		handle: WorkerHandle{
			Pid:       cmd.Process.Pid,
			Pgid:      cmd.Process.Pid, // Setpgid with no Pgid makes the child its own group leader.
			QueueNum:  spec.QueueNum,
			Args:      args,
			StartedAt: startedAtNow(),
		},
	}, nil
}

// startedAtNow exists so tests can observe a deterministic field without
// the package depending on wall-clock time at call sites.
var startedAtNow = time.Now

// Stop signals every tracked worker's process group with SIGTERM,
// concurrently, then waits up to gracePeriod before escalating to
// SIGKILL for any stragglers. The handle table is cleared unconditionally.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	s.mu.Unlock()

	return s.stopAll(workers)
}

func (s *Supervisor) stopAll(workers []*workerProc) error {
	if len(workers) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	for _, wp := range workers {
		wp := wp
		g.Go(func() error { return s.stopOne(wp) })
	}
	if err := g.Wait(); err != nil {
		return errs.New(errs.ProcessManagement, err, "operation", "stop")
	}
	return nil
}

func (s *Supervisor) stopOne(wp *workerProc) error {
	s.logger.Info("stopping worker", slog.Int("pid", wp.handle.Pid), slog.Int("queue", wp.handle.QueueNum))

	if err := syscall.Kill(-wp.handle.Pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		s.logger.Warn("signal failed", slog.Int("pid", wp.handle.Pid), slog.Any("error", err))
	}

	done := make(chan error, 1)
	go func() { _, err := wp.cmd.Process.Wait(); done <- err }()

	select {
	case <-done:
		s.logger.Info("worker stopped", slog.Int("pid", wp.handle.Pid))
		return nil
	case <-time.After(gracePeriod):
		s.logger.Warn("worker did not exit, killing group", slog.Int("pid", wp.handle.Pid))
		if err := syscall.Kill(-wp.handle.Pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return fmt.Errorf("kill pgid %d: %w", wp.handle.Pgid, err)
		}
		<-done
		return nil
	}
}

// Status returns a snapshot of currently-tracked workers.
func (s *Supervisor) Status() []WorkerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WorkerHandle, 0, len(s.workers))
	for _, wp := range s.workers {
		out = append(out, wp.handle)
	}
	return out
}

// IsAlive reports whether pid answers a zero-signal liveness probe.
func IsAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// killLocked force-kills a partially-started batch; caller already holds
// mu. Errors are logged, not returned, since this only runs during
// rollback of an already-failing Start.
func (s *Supervisor) killLocked(batch []*workerProc) {
	for _, wp := range batch {
		if err := syscall.Kill(-wp.handle.Pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			s.logger.Warn("rollback kill failed", slog.Int("pid", wp.handle.Pid), slog.Any("error", err))
		}
		_, _ = wp.cmd.Process.Wait()
	}
}

// KillAll sweeps every process on the system whose /proc/[pid]/exe
// resolves to binaryPath and kills it, independent of this supervisor's
// own handle table. This recovers orphaned workers left behind by a
// daemon crash or an unclean reboot.
func KillAll(binaryPath string, logger *slog.Logger) error {
	target, err := filepath.EvalSymlinks(binaryPath)
	if err != nil {
		// The configured binary may be gone after an upgrade; fall back to
		// the configured path so a stale-but-matching exe link still hits.
		target = binaryPath
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return errs.New(errs.ProcessManagement, err, "operation", "killall-readdir")
	}

	var killed int
	for _, e := range entries {
		pid, convErr := strconv.Atoi(e.Name())
		if convErr != nil {
			continue
		}
		exe, linkErr := os.Readlink(filepath.Join("/proc", e.Name(), "exe"))
		if linkErr != nil {
			continue
		}
		if exe != target && exe != binaryPath {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			logger.Warn("killAll: kill failed", slog.Int("pid", pid), slog.Any("error", err))
			continue
		}
		killed++
	}
	logger.Info("killAll swept orphaned workers", slog.Int("count", killed), slog.String("binary", binaryPath))
	return nil
}
