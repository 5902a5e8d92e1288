package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapretctl/zapret-ng/internal/session"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the zapret session",
	Long:  `Compile the configured strategy, install firewall rules, and spawn workers.`,
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := GetClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Call("start", nil)
	if err != nil {
		return fmt.Errorf("start request failed: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("start failed: %s", resp.Error)
	}

	var st session.Status
	if err := decodeData(resp.Data, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	fmt.Println("session started")
	fmt.Printf("Session ID: %s\n", st.SessionID)
	fmt.Printf("Workers:    %d\n", len(st.Workers))
	return nil
}
