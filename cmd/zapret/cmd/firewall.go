package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapretctl/zapret-ng/internal/firewall"
)

var firewallCmd = &cobra.Command{
	Use:   "firewall",
	Short: "Show the firewall backend's reconciled state",
	RunE:  runFirewall,
}

func init() {
	rootCmd.AddCommand(firewallCmd)
}

func runFirewall(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := GetClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Call("firewall", nil)
	if err != nil {
		return fmt.Errorf("firewall request failed: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("firewall failed: %s", resp.Error)
	}

	var st firewall.Status
	if err := decodeData(resp.Data, &st); err != nil {
		return fmt.Errorf("decode firewall status: %w", err)
	}

	fmt.Printf("Backend:    %s\n", st.Kind)
	fmt.Printf("State:      %s\n", st.State)
	fmt.Printf("Rules:      %d\n", st.RuleCount)
	return nil
}
