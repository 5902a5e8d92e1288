package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapretctl/zapret-ng/internal/session"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the zapret session",
	Long:  `Send a restart command (stop then start) to the zapret daemon.`,
	RunE:  runRestart,
}

func init() {
	rootCmd.AddCommand(restartCmd)
}

func runRestart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := GetClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Call("restart", nil)
	if err != nil {
		return fmt.Errorf("restart request failed: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("restart failed: %s", resp.Error)
	}

	var st session.Status
	if err := decodeData(resp.Data, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	fmt.Println("session restarted")
	fmt.Printf("Session ID: %s\n", st.SessionID)
	return nil
}
