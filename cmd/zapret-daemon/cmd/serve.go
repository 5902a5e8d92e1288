package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zapretctl/zapret-ng/internal/config"
	"github.com/zapretctl/zapret-ng/internal/daemon"
	"github.com/zapretctl/zapret-ng/internal/firewall"
	"github.com/zapretctl/zapret-ng/internal/ipc"
	"github.com/zapretctl/zapret-ng/internal/logging"
	"github.com/zapretctl/zapret-ng/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the zapret daemon service",
	Long:  `Start the zapret daemon service and listen for control commands over its Unix socket.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigPath(), GetEnvFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)

	if err := cfg.Validate(logger); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	pidFile, err := daemon.AcquirePidFile(cfg.PidFile)
	if err != nil {
		return fmt.Errorf("acquire pid file: %w", err)
	}
	defer pidFile.Release()

	fw, err := firewall.Select(context.Background())
	if err != nil {
		return fmt.Errorf("select firewall backend: %w", err)
	}
	logger.Info("selected firewall backend", slog.String("backend", string(fw.Kind())))

	ctrl, err := session.New(cfg, fw, logger)
	if err != nil {
		return fmt.Errorf("init session controller: %w", err)
	}

	server := ipc.New(cfg.SocketPath, cfg, ctrl, fw, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()

	daemon.NotifyReady()
	logger.Info("daemon ready", slog.String("socket", cfg.SocketPath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("ipc server error: %w", err)
		}
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		daemon.NotifyStopping()
		ctrl.Shutdown(context.Background())
		cancel()
		<-serveErr
	}

	logger.Info("daemon stopped")
	return nil
}
