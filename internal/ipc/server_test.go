package ipc

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zapretctl/zapret-ng/internal/config"
	"github.com/zapretctl/zapret-ng/internal/firewall"
	"github.com/zapretctl/zapret-ng/internal/session"
)

type fakeController struct {
	state session.State
	calls []string
}

func (f *fakeController) Status() session.Status {
	return session.Status{State: f.state, SessionID: "fake-session"}
}
func (f *fakeController) Start(ctx context.Context) (session.Status, error) {
	f.calls = append(f.calls, "start")
	f.state = session.Active
	return f.Status(), nil
}
func (f *fakeController) Stop(ctx context.Context) (session.Status, error) {
	f.calls = append(f.calls, "stop")
	f.state = session.Idle
	return f.Status(), nil
}
func (f *fakeController) Restart(ctx context.Context) (session.Status, error) {
	f.calls = append(f.calls, "restart")
	return f.Status(), nil
}

type fakeFirewallStatus struct{}

func (fakeFirewallStatus) Status(ctx context.Context) (firewall.Status, error) {
	return firewall.Status{Kind: firewall.Nftables, State: firewall.StateActive, RuleCount: 3}, nil
}

func startTestServer(t *testing.T) (socketPath string, ctrl *fakeController) {
	t.Helper()
	dir := t.TempDir()
	socketPath = filepath.Join(dir, "zapret.sock")
	ctrl = &fakeController{state: session.Idle}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &Server{socketPath: socketPath, cfg: &config.Config{SocketPath: socketPath}, ctrl: ctrl, fw: fakeFirewallStatus{}, log: log}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = s.Serve(ctx)
	}()
	<-ready
	require.Eventually(t, func() bool {
		c, err := Dial(context.Background(), socketPath)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return socketPath, ctrl
}

func TestServer_StatusCommand(t *testing.T) {
	sock, _ := startTestServer(t)
	c, err := Dial(context.Background(), sock)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Call("status", nil)
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	require.Equal(t, "status", resp.Command)
}

func TestServer_StopWhileIdleErrors(t *testing.T) {
	sock, _ := startTestServer(t)
	c, err := Dial(context.Background(), sock)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Call("stop", nil)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Error)
}

func TestServer_StartThenStopSucceeds(t *testing.T) {
	sock, ctrl := startTestServer(t)
	c, err := Dial(context.Background(), sock)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Call("start", nil)
	require.NoError(t, err)
	require.Empty(t, resp.Error)

	resp, err = c.Call("stop", nil)
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	require.Equal(t, []string{"start", "stop"}, ctrl.calls)
}

func TestServer_UnknownCommandErrors(t *testing.T) {
	sock, _ := startTestServer(t)
	c, err := Dial(context.Background(), sock)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Call("bogus", nil)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Error)
}

func TestServer_FirewallCommandReturnsStatus(t *testing.T) {
	sock, _ := startTestServer(t)
	c, err := Dial(context.Background(), sock)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Call("firewall", nil)
	require.NoError(t, err)
	require.Empty(t, resp.Error)
}

func TestServer_SerialCommandsOnSameConnection(t *testing.T) {
	sock, _ := startTestServer(t)
	c, err := Dial(context.Background(), sock)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 5; i++ {
		resp, err := c.Call("status", nil)
		require.NoError(t, err)
		require.Equal(t, "status", resp.Command)
	}
}
