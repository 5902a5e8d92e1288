package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapretctl/zapret-ng/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the daemon's active configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := GetClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Call("config", nil)
	if err != nil {
		return fmt.Errorf("config request failed: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("config failed: %s", resp.Error)
	}

	var cfg config.Config
	if err := decodeData(resp.Data, &cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	fmt.Printf("Strategy File:     %s\n", cfg.StrategyFile)
	fmt.Printf("Interface:         %s\n", cfg.Interface)
	fmt.Printf("Worker Binary:     %s\n", cfg.WorkerBinary)
	fmt.Printf("Socket Path:       %s\n", cfg.SocketPath)
	fmt.Printf("Router Mode:       %t\n", cfg.RouterMode)
	fmt.Printf("GameFilter:        %t\n", cfg.GameFilterEnabled)
	return nil
}
