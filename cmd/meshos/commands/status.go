package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/total-audio/meshos/internal/printer"
	"github.com/total-audio/meshos/pkg/mesh"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace health, drift and coordination state",
	Long: `Show the live state of the mesh workspace: per-subsystem health read
through the adapters, open drift reports, pending negotiations, active
plans and the pending message backlog.

Reads Redis directly; a running meshd daemon is not required.

Use --json for machine-readable output.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

type systemStatus struct {
	System mesh.Participant `json:"system"`
	Health mesh.Health      `json:"health,omitempty"`
	Load   float64          `json:"load"`
	Alerts []string         `json:"alerts,omitempty"`
	Error  string           `json:"error,omitempty"`
}

type workspaceStatus struct {
	Workspace       string                    `json:"workspace"`
	Systems         []systemStatus            `json:"systems"`
	OpenDrift       []*mesh.DriftReport       `json:"open_drift"`
	PendingTalks    []*mesh.Negotiation       `json:"pending_negotiations"`
	ActivePlans     map[mesh.Timeframe]string `json:"active_plans"`
	PendingMessages int                       `json:"pending_messages"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, store, opts, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		return printer.Error(
			"Redis not accessible",
			fmt.Sprintf("Could not reach Redis at %s: %v", redisURL(), err),
			[]string{"Start Redis, or point --redis-url at the right instance"},
		)
	}

	registry, err := buildRegistry(cfg, opts)
	if err != nil {
		return printer.Error("Adapter setup failed", err.Error(), nil)
	}

	ws := workspaceStatus{
		Workspace:   cfg.Workspace,
		ActivePlans: make(map[mesh.Timeframe]string),
	}

	timeout := cfg.Orchestrator.Timeout()
	for _, system := range registry.Systems() {
		readCtx, cancel := context.WithTimeout(ctx, timeout)
		result := registry.Get(system).GetState(readCtx)
		cancel()

		if !result.Success {
			ws.Systems = append(ws.Systems, systemStatus{System: system, Error: result.Err})
			continue
		}
		ws.Systems = append(ws.Systems, systemStatus{
			System: system,
			Health: result.Data.Health,
			Load:   result.Data.Load,
			Alerts: result.Data.Alerts,
		})
	}

	if ws.OpenDrift, err = store.OpenDriftReports(ctx); err != nil {
		return fmt.Errorf("failed to read drift reports: %w", err)
	}
	if ws.PendingTalks, err = store.PendingNegotiations(ctx); err != nil {
		return fmt.Errorf("failed to read negotiations: %w", err)
	}
	for _, tf := range mesh.Timeframes() {
		plan, err := store.ActivePlan(ctx, tf)
		if err != nil {
			continue
		}
		ws.ActivePlans[tf] = plan.ID
	}
	pending, err := store.PendingMessages(ctx, cfg.Orchestrator.Batch())
	if err != nil {
		return fmt.Errorf("failed to read pending messages: %w", err)
	}
	ws.PendingMessages = len(pending)

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ws)
	}

	printStatus(ws)
	return nil
}

func printStatus(ws workspaceStatus) {
	printer.Printf("Workspace: %s\n\n", ws.Workspace)

	printer.Println("Subsystems:")
	for _, s := range ws.Systems {
		if s.Error != "" {
			printer.Printf("  %-12s %s (%s)\n", s.System, printer.Health("down"), s.Error)
			continue
		}
		line := fmt.Sprintf("  %-12s %s  load %.2f", s.System, printer.Health(string(s.Health)), s.Load)
		if len(s.Alerts) > 0 {
			line += fmt.Sprintf("  alerts: %d", len(s.Alerts))
		}
		printer.Println(line)
	}

	printer.Printf("\nOpen drift reports: %d\n", len(ws.OpenDrift))
	for _, d := range ws.OpenDrift {
		printer.Printf("  %s  score %.2f (%s)  %v\n",
			d.DriftType, d.Score, printer.Severity(string(d.Severity)), d.Systems)
	}

	printer.Printf("\nPending negotiations: %d\n", len(ws.PendingTalks))
	for _, n := range ws.PendingTalks {
		printer.Printf("  %s  %q  since %s\n",
			n.ID, n.Context.Issue, n.CreatedAt.Format(time.RFC3339))
	}

	printer.Printf("\nActive plans:\n")
	for _, tf := range mesh.Timeframes() {
		if id, ok := ws.ActivePlans[tf]; ok {
			printer.Printf("  %-4s %s\n", tf, id)
		} else {
			printer.Printf("  %-4s (none)\n", tf)
		}
	}

	printer.Printf("\nPending messages: %d\n", ws.PendingMessages)
}
