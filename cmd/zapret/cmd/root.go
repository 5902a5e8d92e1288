package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zapretctl/zapret-ng/internal/config"
	"github.com/zapretctl/zapret-ng/internal/ipc"
)

var (
	cfgFile    string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "zapret",
	Short: "Zapret CLI client",
	Long:  `Command-line interface for controlling the zapret daemon over its Unix socket.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "", "unix socket path (overrides config)")
}

// GetClient dials the daemon's Unix socket: the --socket flag if given,
// otherwise the socket path config.Load resolves (the --config file if
// one is given, then ZAPRET_SOCKET_PATH, then the built-in default).
func GetClient(ctx context.Context) (*ipc.Client, error) {
	path := socketPath
	if path == "" {
		cfg, err := config.Load(cfgFile, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.SocketPath == "" {
			return nil, fmt.Errorf("no socket path configured")
		}
		path = cfg.SocketPath
	}
	return ipc.Dial(ctx, path)
}
