package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zapretctl/zapret-ng/internal/config"
	"github.com/zapretctl/zapret-ng/internal/firewall"
)

type fakeReconciler struct {
	kind      firewall.BackendKind
	setupErr  error
	setupN    int
	cleanupN  int
	lastRules []firewall.Rule
}

func (f *fakeReconciler) Setup(ctx context.Context, rules []firewall.Rule, iface string, routerMode bool) error {
	f.setupN++
	f.lastRules = rules
	return f.setupErr
}
func (f *fakeReconciler) Cleanup(ctx context.Context) error {
	f.cleanupN++
	return nil
}
func (f *fakeReconciler) Status(ctx context.Context) (firewall.Status, error) {
	return firewall.Status{Kind: f.kind}, nil
}
func (f *fakeReconciler) Kind() firewall.BackendKind { return f.kind }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeStrategy(t *testing.T, lines string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategy.bat")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func writeWorkerScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755))
	return path
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		StrategyFile: writeStrategy(t, "--filter-tcp=443 --dup-cfg=x --new\n"),
		WorkerBinary: writeWorkerScript(t),
		Interface:    config.AnyInterface,
	}
}

func TestController_RecoversToIdleOnConstruction(t *testing.T) {
	fw := &fakeReconciler{kind: firewall.Nftables}
	c, err := New(testConfig(t), fw, testLogger())
	require.NoError(t, err)
	require.Equal(t, 1, fw.cleanupN)
	require.Equal(t, Idle, c.Status().State)
}

func TestController_StartTransitionsToActiveWithSessionID(t *testing.T) {
	fw := &fakeReconciler{kind: firewall.Nftables}
	c, err := New(testConfig(t), fw, testLogger())
	require.NoError(t, err)

	st, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, Active, st.State)
	require.NotEmpty(t, st.SessionID)
	require.Len(t, st.Workers, 1)
	defer c.Stop(context.Background())
}

func TestController_StartWhileActiveIsRejected(t *testing.T) {
	fw := &fakeReconciler{kind: firewall.Nftables}
	c, err := New(testConfig(t), fw, testLogger())
	require.NoError(t, err)

	_, err = c.Start(context.Background())
	require.NoError(t, err)
	defer c.Stop(context.Background())

	_, err = c.Start(context.Background())
	require.Error(t, err)
}

func TestController_StartRollsBackFirewallOnSpawnFailure(t *testing.T) {
	fw := &fakeReconciler{kind: firewall.Nftables}
	cfg := testConfig(t)
	cfg.WorkerBinary = filepath.Join(t.TempDir(), "missing-binary")

	c, err := New(cfg, fw, testLogger())
	require.NoError(t, err)

	before := fw.cleanupN
	_, err = c.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, Idle, c.Status().State)
	require.Greater(t, fw.cleanupN, before)
}

func TestController_StopIsIdempotent(t *testing.T) {
	fw := &fakeReconciler{kind: firewall.Nftables}
	c, err := New(testConfig(t), fw, testLogger())
	require.NoError(t, err)

	st, err := c.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, Idle, st.State)
}

func TestController_RestartMintsNewSessionID(t *testing.T) {
	fw := &fakeReconciler{kind: firewall.Nftables}
	c, err := New(testConfig(t), fw, testLogger())
	require.NoError(t, err)

	st1, err := c.Start(context.Background())
	require.NoError(t, err)

	st2, err := c.Restart(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, st1.SessionID, st2.SessionID)
	defer c.Stop(context.Background())
}

func TestController_SetupFailureKeepsSessionIdle(t *testing.T) {
	fw := &fakeReconciler{kind: firewall.Nftables, setupErr: fmt.Errorf("netlink: permission denied")}
	c, err := New(testConfig(t), fw, testLogger())
	require.NoError(t, err)

	_, err = c.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, Idle, c.Status().State)
}
