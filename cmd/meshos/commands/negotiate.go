package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/total-audio/meshos/internal/negotiation"
	"github.com/total-audio/meshos/internal/printer"
	"github.com/total-audio/meshos/pkg/mesh"
)

var (
	negotiateIssue        string
	negotiateDecision     string
	negotiateParticipants []string
	negotiateStrategy     string
)

var negotiateCmd = &cobra.Command{
	Use:   "negotiate",
	Short: "Resolve a conflict between subsystems",
	Long: `Gather each participant's position on an issue through its adapter and
aggregate them into one decision with a confidence score.

Strategies:
  consensus      every position counts equally
  weighted       positions scaled by configured subsystem weight
  risk-adjusted  weight discounted by the subsystem's standing risk
  opportunity    weight boosted by the subsystem's standing opportunity

Examples:
  meshos negotiate --issue budget-split --decision "shift spend to paid" \
    --participants autopilot,cmg --strategy weighted`,
	RunE: runNegotiate,
}

func init() {
	negotiateCmd.Flags().StringVar(&negotiateIssue, "issue", "", "Issue under negotiation (required)")
	negotiateCmd.Flags().StringVar(&negotiateDecision, "decision", "", "Decision needed")
	negotiateCmd.Flags().StringSliceVar(&negotiateParticipants, "participants", nil, "Participating subsystems (required, 2+)")
	negotiateCmd.Flags().StringVar(&negotiateStrategy, "strategy", "consensus", "Aggregation strategy")
	rootCmd.AddCommand(negotiateCmd)
}

func runNegotiate(cmd *cobra.Command, args []string) error {
	if negotiateIssue == "" {
		return printer.Error(
			"Missing issue",
			"A negotiation needs an issue to gather positions on.",
			[]string{"Pass --issue, e.g. --issue budget-split"},
		)
	}
	if len(negotiateParticipants) < 2 {
		return printer.Error(
			"Not enough participants",
			"A negotiation needs at least two participating subsystems.",
			[]string{"Pass --participants, e.g. --participants autopilot,cmg"},
		)
	}

	strategy := mesh.Strategy(negotiateStrategy)
	if err := strategy.Validate(); err != nil {
		return printer.Error(
			"Unknown strategy",
			fmt.Sprintf("%q is not a negotiation strategy.", negotiateStrategy),
			[]string{"Use one of: consensus, weighted, risk-adjusted, opportunity"},
		)
	}

	cfg, store, opts, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := buildRegistry(cfg, opts)
	if err != nil {
		return printer.Error("Adapter setup failed", err.Error(), nil)
	}

	participants := make([]mesh.Participant, 0, len(negotiateParticipants))
	for _, raw := range negotiateParticipants {
		participants = append(participants, mesh.Participant(strings.TrimSpace(raw)))
	}

	engine := negotiation.NewEngine(cfg.Workspace, registry, store, cfg.Subsystems)
	result, err := engine.Negotiate(context.Background(), negotiation.Request{
		Participants: participants,
		Context: mesh.NegotiationContext{
			Issue:          negotiateIssue,
			DecisionNeeded: negotiateDecision,
		},
		Strategy: strategy,
	})
	if err != nil {
		return printer.Error(
			"Negotiation failed",
			err.Error(),
			[]string{"Check that the participants publish state to the workspace"},
		)
	}

	printer.Success("Negotiation %s completed (confidence %.2f)\n", result.ID, result.Confidence)
	printer.Printf("\nDecision: %s\n", result.Result.Decision)
	printer.Printf("Rationale: %s\n\n", result.Result.Rationale)
	printer.Println("Agreement:")
	for _, p := range result.Participants {
		score, ok := result.Result.Agreement[string(p)]
		if !ok {
			printer.Printf("  %-12s (no readable position)\n", p)
			continue
		}
		printer.Printf("  %-12s %.2f\n", p, score)
	}
	return nil
}
