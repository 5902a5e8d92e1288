package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the zapret session",
	Long:  `Tear down workers and firewall rules for the active session.`,
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := GetClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Call("stop", nil)
	if err != nil {
		return fmt.Errorf("stop request failed: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("stop failed: %s", resp.Error)
	}

	fmt.Println("session stopped")
	return nil
}
