package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/total-audio/meshos/internal/printer"
	"github.com/total-audio/meshos/pkg/mesh"
)

var (
	routeType        string
	routeDestination string
	routePriority    int
	routeField       string
	routeMin         float64
	routeMax         float64
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Manage insight routes",
	Long: `Manage the standing subscriptions that dispatch matching insights to
external destinations (dashboards, pagers, channels). Insights with no
matching route fall back to the dashboard.`,
}

var routesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured insight routes",
	RunE:  runRoutesList,
}

var routesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an insight route",
	Long: `Add a route dispatching insights of a type to a destination.
An optional numeric field condition narrows the match; min and max
bounds are inclusive.

Example:
  meshos routes add --type drift --destination pager --priority 9 \
    --field drift_score --min 0.7`,
	RunE: runRoutesAdd,
}

var routesRemoveCmd = &cobra.Command{
	Use:   "remove <route-id>",
	Short: "Remove an insight route",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutesRemove,
}

func init() {
	routesAddCmd.Flags().StringVar(&routeType, "type", "", "Insight type to match (required)")
	routesAddCmd.Flags().StringVar(&routeDestination, "destination", "", "Destination to dispatch to (required)")
	routesAddCmd.Flags().IntVar(&routePriority, "priority", 0, "Route priority, higher evaluates first")
	routesAddCmd.Flags().StringVar(&routeField, "field", "", "Numeric insight field to bound")
	routesAddCmd.Flags().Float64Var(&routeMin, "min", 0, "Inclusive lower bound on --field")
	routesAddCmd.Flags().Float64Var(&routeMax, "max", 0, "Inclusive upper bound on --field")

	routesCmd.AddCommand(routesListCmd)
	routesCmd.AddCommand(routesAddCmd)
	routesCmd.AddCommand(routesRemoveCmd)
	rootCmd.AddCommand(routesCmd)
}

func runRoutesList(cmd *cobra.Command, args []string) error {
	_, store, _, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	routes, err := store.InsightRoutes(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list routes: %w", err)
	}
	if len(routes) == 0 {
		printer.Println("No insight routes configured; insights go to the dashboard.")
		return nil
	}

	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Priority > routes[j].Priority
	})

	for _, r := range routes {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		printer.Printf("%s  [%2d] %-16s -> %-16s %s\n",
			r.ID, r.Priority, r.InsightType, r.Destination, state)
	}
	return nil
}

func runRoutesAdd(cmd *cobra.Command, args []string) error {
	if routeType == "" || routeDestination == "" {
		return printer.Error(
			"Missing route fields",
			"A route needs both an insight type and a destination.",
			[]string{"Pass --type and --destination"},
		)
	}

	cfg, store, _, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	route := &mesh.InsightRoute{
		ID:          uuid.New().String(),
		WorkspaceID: cfg.Workspace,
		InsightType: routeType,
		Destination: routeDestination,
		Priority:    routePriority,
		Enabled:     true,
	}
	if routeField != "" {
		cond := mesh.Condition{}
		if cmd.Flags().Changed("min") {
			v := routeMin
			cond.Min = &v
		}
		if cmd.Flags().Changed("max") {
			v := routeMax
			cond.Max = &v
		}
		route.Rule.Conditions = map[string]mesh.Condition{routeField: cond}
	}

	if err := store.SaveInsightRoute(context.Background(), route); err != nil {
		return fmt.Errorf("failed to save route: %w", err)
	}

	printer.Success("Route %s created: %s -> %s\n", route.ID, routeType, routeDestination)
	return nil
}

func runRoutesRemove(cmd *cobra.Command, args []string) error {
	_, store, _, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteInsightRoute(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to remove route: %w", err)
	}
	printer.Success("Route %s removed\n", args[0])
	return nil
}
