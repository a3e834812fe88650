package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/total-audio/meshos/internal/printer"
	"github.com/total-audio/meshos/pkg/mesh"
)

var planJSON bool

var planCmd = &cobra.Command{
	Use:   "plan [timeframe]",
	Short: "Show the active plan for a horizon",
	Long: `Show the active plan for a planning horizon (7d, 30d or 90d).
Without an argument, shows a one-line summary per horizon.

Plans are generated by the daemon's planning engine; this command only
reads them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	_, store, _, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	if len(args) == 0 {
		return planOverview(ctx, store)
	}

	tf := mesh.Timeframe(args[0])
	if err := tf.Validate(); err != nil {
		return printer.Error(
			"Unknown timeframe",
			fmt.Sprintf("%q is not a planning horizon.", args[0]),
			[]string{"Use one of: 7d, 30d, 90d"},
		)
	}

	plan, err := store.ActivePlan(ctx, tf)
	if errors.Is(err, redis.Nil) {
		return printer.Error(
			"No active plan",
			fmt.Sprintf("No active plan exists for the %s horizon yet.", tf),
			[]string{"Run 'meshos cycle' against a running daemon to generate plans"},
		)
	}
	if err != nil {
		return fmt.Errorf("failed to read plan: %w", err)
	}

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	printPlan(plan)
	return nil
}

func planOverview(ctx context.Context, store *mesh.Store) error {
	for _, tf := range mesh.Timeframes() {
		plan, err := store.ActivePlan(ctx, tf)
		if errors.Is(err, redis.Nil) {
			printer.Printf("%-4s (no active plan)\n", tf)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s plan: %w", tf, err)
		}
		printer.Printf("%-4s %s  confidence %.2f  %d objectives  valid until %s\n",
			tf, plan.ID, plan.Confidence, len(plan.Objectives),
			plan.ValidUntil.Format("2006-01-02"))
	}
	return nil
}

func printPlan(plan *mesh.Plan) {
	printer.Printf("Plan %s (%s)\n", plan.ID, plan.Timeframe)
	printer.Printf("Confidence: %.2f\n", plan.Confidence)
	printer.Printf("Generated:  %s\n", plan.GeneratedAt.Format(time.RFC3339))
	printer.Printf("Valid until: %s\n\n", plan.ValidUntil.Format(time.RFC3339))

	printer.Println("Objectives:")
	for _, o := range plan.Objectives {
		printer.Printf("  [%2d] %s\n", o.Priority, o.Title)
	}

	if len(plan.Actions) > 0 {
		printer.Println("\nActions:")
		for _, a := range plan.Actions {
			printer.Printf("  %-12s %s (%s)\n", a.Agent, a.Description, a.Duration)
		}
	}

	if len(plan.Milestones) > 0 {
		printer.Println("\nMilestones:")
		for _, m := range plan.Milestones {
			printer.Printf("  %s  %s\n", m.TargetDate.Format("2006-01-02"), m.Title)
		}
	}

	if len(plan.Risks) > 0 {
		printer.Println("\nRisks:")
		for _, r := range plan.Risks {
			printer.Printf("  p=%.2f impact=%.2f  %s\n", r.Probability, r.Impact, r.Description)
		}
	}

	if len(plan.Opportunities) > 0 {
		printer.Println("\nOpportunities:")
		for _, o := range plan.Opportunities {
			printer.Printf("  value=%.2f  %s\n", o.Value, o.Description)
		}
	}
}
