package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/total-audio/meshos/internal/printer"
	"github.com/total-audio/meshos/pkg/mesh"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or replace the workspace safety policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the live policy as YAML",
	Long: `Print the workspace's live safety policy as YAML. If no policy has
been saved yet, prints the conservative default the engines fall back
to. The output round-trips through 'meshos policy apply'.`,
	RunE: runPolicyShow,
}

var policyApplyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Replace the live policy from a YAML file",
	Long: `Validate a YAML policy file and replace the workspace's live policy
with it. The whole policy is written in one move; the daemon picks up
the new version on its next gate check.

Example:
  meshos policy show > policy.yml
  # edit policy.yml
  meshos policy apply policy.yml`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyApply,
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyApplyCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	cfg, store, _, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	policy, err := store.GetPolicy(context.Background())
	if errors.Is(err, redis.Nil) {
		policy = mesh.DefaultPolicy(cfg.Workspace)
	} else if err != nil {
		return fmt.Errorf("failed to read policy: %w", err)
	}

	out, err := yaml.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to render policy: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runPolicyApply(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return printer.Error(
			"Policy file not readable",
			fmt.Sprintf("Could not read %s: %v", args[0], err),
			nil,
		)
	}

	var policy mesh.Policy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return printer.Error(
			"Policy file not parseable",
			fmt.Sprintf("Could not parse %s as YAML: %v", args[0], err),
			[]string{"Start from 'meshos policy show' output and edit that"},
		)
	}

	cfg, store, _, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	if policy.WorkspaceID == "" {
		policy.WorkspaceID = cfg.Workspace
	}
	if policy.WorkspaceID != cfg.Workspace {
		return printer.Error(
			"Workspace mismatch",
			fmt.Sprintf("The policy file targets workspace %q but the config uses %q.",
				policy.WorkspaceID, cfg.Workspace),
			[]string{"Remove workspace_id from the file to target the configured workspace"},
		)
	}
	policy.UpdatedAt = time.Now().UTC()

	if err := policy.Validate(); err != nil {
		return printer.Error("Invalid policy", err.Error(), nil)
	}
	if err := store.SavePolicy(context.Background(), &policy); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}

	printer.Success("Policy applied to workspace %q\n", policy.WorkspaceID)
	return nil
}
