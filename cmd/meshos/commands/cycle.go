package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/total-audio/meshos/internal/printer"
)

var cycleAddr string

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Trigger one coordination cycle on the running daemon",
	Long: `Trigger one full coordination cycle on a running meshd daemon:
snapshot build, drift detection, plan refresh and message dispatch.

Talks to the daemon's HTTP status surface; meshd must be running.`,
	RunE: runCycle,
}

func init() {
	cycleCmd.Flags().StringVar(&cycleAddr, "addr", "http://localhost:8080", "Base URL of the meshd status server")
	rootCmd.AddCommand(cycleCmd)
}

// daemonStatus mirrors the JSON body the daemon's /cycle endpoint returns.
type daemonStatus struct {
	Running       bool      `json:"running"`
	CycleCount    int64     `json:"cycle_count"`
	ErrorCount    int64     `json:"error_count"`
	LastCycleTime time.Time `json:"last_cycle_time"`
}

func runCycle(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 30 * time.Second}

	resp, err := client.Post(cycleAddr+"/cycle", "application/json", nil)
	if err != nil {
		return printer.Error(
			"Daemon not reachable",
			fmt.Sprintf("Could not reach meshd at %s: %v", cycleAddr, err),
			[]string{
				"Start the daemon with 'meshd'",
				"Point --addr at the daemon's status server",
			},
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return printer.Error(
			"Cycle failed",
			fmt.Sprintf("meshd returned %s for POST /cycle", resp.Status),
			nil,
		)
	}

	var status daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode daemon response: %w", err)
	}

	printer.Success("Cycle %d completed at %s\n",
		status.CycleCount, status.LastCycleTime.Format(time.RFC3339))
	if status.ErrorCount > 0 {
		printer.Warning("%d cycle errors recorded so far\n", status.ErrorCount)
	}
	return nil
}
