// Package session owns the controller's single in-process Session value
// and its idle/starting/active/stopping state machine.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zapretctl/zapret-ng/internal/config"
	"github.com/zapretctl/zapret-ng/internal/errs"
	"github.com/zapretctl/zapret-ng/internal/firewall"
	"github.com/zapretctl/zapret-ng/internal/strategy"
	"github.com/zapretctl/zapret-ng/internal/supervisor"
)

// State is one phase of the session state machine.
type State string

const (
	Idle     State = "idle"
	Starting State = "starting"
	Active   State = "active"
	Stopping State = "stopping"
)

// Status is the read-only snapshot exposed to IPC callers.
type Status struct {
	State           State
	SessionID       string
	StrategyFile    string
	FirewallBackend firewall.BackendKind
	Workers         []supervisor.WorkerHandle
	AliveCount      int
}

// Controller serializes start/stop/restart against the single active
// session, mints a SessionID per activation, and recovers the idle
// invariant on construction.
type Controller struct {
	cfg  *config.Config
	fw   firewall.Reconciler
	sup  *supervisor.Supervisor
	log  *slog.Logger

	mu        sync.Mutex
	state     State
	sessionID string
	strategy  *strategy.CompiledStrategy
}

// New builds a Controller over an already-selected firewall backend and
// runs startup recovery (C.cleanup + D.killAll) so the idle invariant
// holds even after an unclean prior exit, before any command is accepted.
func New(cfg *config.Config, fw firewall.Reconciler, log *slog.Logger) (*Controller, error) {
	c := &Controller{
		cfg:   cfg,
		fw:    fw,
		sup:   supervisor.New(cfg.WorkerBinary, log),
		log:   log,
		state: Idle,
	}

	if err := c.recover(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) recover(ctx context.Context) error {
	c.log.Info("startup recovery: cleaning firewall and sweeping orphaned workers")
	if err := c.fw.Cleanup(ctx); err != nil {
		c.log.Warn("recovery cleanup failed", slog.Any("error", err))
	}
	if err := supervisor.KillAll(c.cfg.WorkerBinary, c.log); err != nil {
		c.log.Warn("recovery killAll failed", slog.Any("error", err))
	}
	return nil
}

// Start compiles the configured strategy file, installs firewall rules,
// and spawns workers. Any failure rolls the session back to idle and
// returns the wrapped cause; on success the session transitions to active
// under a freshly minted SessionID.
func (c *Controller) Start(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) (Status, error) {
	if c.state != Idle {
		return c.statusLocked(), errs.Wrapf(errs.SessionState, "start rejected: session is %s, not idle", c.state)
	}

	c.state = Starting
	sid := uuid.NewString()
	log := c.log.With(slog.String("session_id", sid))

	compiled, err := strategy.Compile(c.cfg.StrategyFile, c.cfg.GameFilterEnabled, log)
	if err != nil {
		c.state = Idle
		return c.statusLocked(), errs.New(errs.SessionState, err, "phase", "compile")
	}

	fwRules := make([]firewall.Rule, 0, len(compiled.Rules))
	for _, r := range compiled.Rules {
		fwRules = append(fwRules, firewall.Rule{Protocol: string(r.Protocol), Ports: r.Ports, QueueNum: r.QueueNum})
	}

	if err := c.fw.Setup(ctx, fwRules, c.cfg.Interface, c.cfg.RouterMode); err != nil {
		c.state = Idle
		return c.statusLocked(), errs.New(errs.SessionState, err, "phase", "firewall-setup", "session_id", sid)
	}

	if err := c.sup.Start(ctx, compiled.Workers); err != nil {
		if cleanupErr := c.fw.Cleanup(ctx); cleanupErr != nil {
			log.Warn("rollback firewall cleanup failed", slog.Any("error", cleanupErr))
		}
		c.state = Idle
		return c.statusLocked(), errs.New(errs.SessionState, err, "phase", "spawn-workers", "session_id", sid)
	}

	c.sessionID = sid
	c.strategy = compiled
	c.state = Active
	log.Info("session active", slog.Int("rules", len(compiled.Rules)), slog.Int("workers", len(compiled.Workers)))
	return c.statusLocked(), nil
}

// Stop tears down workers then firewall rules and returns to idle.
// Errors during stop are logged, not returned as transition failures:
// leaving the session stuck in stopping is worse than acknowledging a
// partial teardown.
func (c *Controller) Stop(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) (Status, error) {
	if c.state == Idle {
		return c.statusLocked(), nil
	}

	log := c.log.With(slog.String("session_id", c.sessionID))
	c.state = Stopping

	if err := c.sup.Stop(ctx); err != nil {
		log.Warn("stop: worker teardown error", slog.Any("error", err))
	}
	if err := c.fw.Cleanup(ctx); err != nil {
		log.Warn("stop: firewall cleanup error", slog.Any("error", err))
	}

	log.Info("session stopped")
	c.sessionID = ""
	c.strategy = nil
	c.state = Idle
	return c.statusLocked(), nil
}

// Restart composes Stop then Start under the single session lock so no
// other command can interleave between the two phases.
func (c *Controller) Restart(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.stopLocked(ctx); err != nil {
		return c.statusLocked(), err
	}
	return c.startLocked(ctx)
}

// Status returns a read-only snapshot of the current session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	handles := c.sup.Status()
	alive := 0
	for _, h := range handles {
		if supervisor.IsAlive(h.Pid) {
			alive++
		}
	}

	st := Status{
		State:      c.state,
		SessionID:  c.sessionID,
		Workers:    handles,
		AliveCount: alive,
	}
	if c.fw != nil {
		st.FirewallBackend = c.fw.Kind()
	}
	if c.strategy != nil {
		st.StrategyFile = c.cfg.StrategyFile
	}
	return st
}

// Shutdown treats process-level signal delivery exactly like a Stop
// request, per the cancellation semantics of the state machine.
func (c *Controller) Shutdown(ctx context.Context) {
	if _, err := c.Stop(ctx); err != nil {
		c.log.Warn("shutdown stop failed", slog.Any("error", err))
	}
}
