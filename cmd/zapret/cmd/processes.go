package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapretctl/zapret-ng/internal/supervisor"
)

var processesCmd = &cobra.Command{
	Use:   "processes",
	Short: "List managed worker processes",
	RunE:  runProcesses,
}

func init() {
	rootCmd.AddCommand(processesCmd)
}

func runProcesses(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := GetClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Call("processes", nil)
	if err != nil {
		return fmt.Errorf("processes request failed: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("processes failed: %s", resp.Error)
	}

	var workers []supervisor.WorkerHandle
	if err := decodeData(resp.Data, &workers); err != nil {
		return fmt.Errorf("decode processes: %w", err)
	}

	if len(workers) == 0 {
		fmt.Println("no managed workers")
		return nil
	}
	for _, w := range workers {
		fmt.Printf("queue=%d pid=%d pgid=%d started=%s\n", w.QueueNum, w.Pid, w.Pgid, w.StartedAt.Format(time.RFC3339))
	}
	return nil
}
