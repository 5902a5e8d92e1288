package ipc

import (
	"context"
	"log/slog"
	"net"
	"os"

	"github.com/zapretctl/zapret-ng/internal/config"
	"github.com/zapretctl/zapret-ng/internal/errs"
	"github.com/zapretctl/zapret-ng/internal/firewall"
	"github.com/zapretctl/zapret-ng/internal/session"
)

// sessionController is the subset of *session.Controller the server
// dispatches commands against; narrowed to an interface so tests can
// substitute a fake.
type sessionController interface {
	Status() session.Status
	Start(ctx context.Context) (session.Status, error)
	Stop(ctx context.Context) (session.Status, error)
	Restart(ctx context.Context) (session.Status, error)
}

// firewallStatuser is the read-only firewall query the "firewall" command
// exposes; satisfied by firewall.Reconciler.
type firewallStatuser interface {
	Status(ctx context.Context) (firewall.Status, error)
}

// Server accepts connections on a Unix socket and dispatches one command
// per request, one goroutine per connection, serialized per connection
// by construction (read, dispatch, write, repeat).
type Server struct {
	socketPath string
	cfg        *config.Config
	ctrl       sessionController
	fw         firewallStatuser
	log        *slog.Logger
}

// New creates a Server bound to socketPath, dispatching against ctrl and
// fw. Serve performs the actual bind.
func New(socketPath string, cfg *config.Config, ctrl *session.Controller, fw firewall.Reconciler, log *slog.Logger) *Server {
	return &Server{socketPath: socketPath, cfg: cfg, ctrl: ctrl, fw: fw, log: log}
}

// Serve binds the Unix socket (pre-removing any stale file, then
// chmod 0666 per the spec's privilege boundary — the daemon itself runs
// as root; the CLI does not need to) and accepts connections until ctx
// is canceled.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return errs.New(errs.ServiceOperation, err, "operation", "remove-stale-socket", "file", s.socketPath)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errs.New(errs.ServiceOperation, err, "operation", "listen", "file", s.socketPath)
	}
	defer ln.Close()

	if err := os.Chmod(s.socketPath, 0o666); err != nil {
		s.log.Warn("failed to chmod socket", slog.String("file", s.socketPath), slog.Any("error", err))
	}

	s.log.Info("ipc listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errs.New(errs.ServiceOperation, err, "operation", "accept")
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			return
		}

		resp := s.dispatch(ctx, req)
		if err := WriteFrame(conn, resp); err != nil {
			s.log.Warn("write response failed", slog.Any("error", err))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	data, err := s.handle(ctx, req)
	if err != nil {
		s.log.Warn("command failed", slog.String("command", req.Command), slog.Any("error", err))
		return Response{Command: req.Command, Error: err.Error()}
	}
	return Response{Command: req.Command, Data: data}
}

func (s *Server) handle(ctx context.Context, req Request) (any, error) {
	switch req.Command {
	case "status":
		return s.ctrl.Status(), nil

	case "start":
		st, err := s.ctrl.Start(ctx)
		return st, err

	case "stop":
		if s.ctrl.Status().State == session.Idle {
			return nil, errs.Wrapf(errs.SessionState, "stop rejected: session is already idle")
		}
		st, err := s.ctrl.Stop(ctx)
		return st, err

	case "restart":
		st, err := s.ctrl.Restart(ctx)
		return st, err

	case "config":
		return s.cfg.Redacted(), nil

	case "firewall":
		if s.fw == nil {
			return nil, errs.Wrapf(errs.NotFound, "no firewall backend selected")
		}
		return s.fw.Status(ctx)

	case "processes":
		return s.ctrl.Status().Workers, nil

	default:
		return nil, errs.Wrapf(errs.NotFound, "unknown command %q", req.Command)
	}
}
