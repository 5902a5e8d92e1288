package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapretctl/zapret-ng/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get session status",
	Long:  `Get the current status of the zapret session.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := GetClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Call("status", nil)
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("status failed: %s", resp.Error)
	}

	var st session.Status
	if err := decodeData(resp.Data, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	fmt.Printf("State:              %s\n", st.State)
	fmt.Printf("Session ID:         %s\n", st.SessionID)
	fmt.Printf("Strategy File:      %s\n", st.StrategyFile)
	fmt.Printf("Firewall Backend:   %s\n", st.FirewallBackend)
	fmt.Printf("Workers:            %d (alive %d)\n", len(st.Workers), st.AliveCount)

	return nil
}

// decodeData re-encodes an any-typed response payload and decodes it
// into v, since Response.Data arrives from JSON as a generic map.
func decodeData(data any, v any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
