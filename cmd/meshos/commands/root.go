package commands

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/total-audio/meshos/internal/adapter"
	"github.com/total-audio/meshos/internal/config"
	"github.com/total-audio/meshos/internal/printer"
	"github.com/total-audio/meshos/pkg/mesh"
)

var (
	version string
	commit  string
	date    string
)

var (
	flagConfig   string
	flagRedisURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshos",
	Short: "meshos - marketing mesh coordination CLI",
	Long: `meshos inspects and drives the marketing mesh: the coordination layer
that reads every subsystem through read-only adapters, detects drift
between them, negotiates conflicts and maintains plans per horizon.

State lives in Redis under the workspace configured in mesh.yml. Most
commands talk to Redis directly; 'meshos cycle' talks to a running
meshd daemon.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to mesh config (default mesh.yml, or MESH_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flagRedisURL, "redis-url", "", "Redis URL (default redis://localhost:6379, or REDIS_URL)")
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if env := os.Getenv("MESH_CONFIG"); env != "" {
		return env
	}
	return "mesh.yml"
}

func redisURL() string {
	if flagRedisURL != "" {
		return flagRedisURL
	}
	if env := os.Getenv("REDIS_URL"); env != "" {
		return env
	}
	return "redis://localhost:6379"
}

// connect loads the mesh config and opens the workspace store. Shared by
// every command that talks to Redis directly.
func connect() (*config.MeshConfig, *mesh.Store, *redis.Options, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, nil, nil, printer.Error(
			"Config not loadable",
			fmt.Sprintf("Could not load %s: %v", configPath(), err),
			[]string{
				"Run the command from the workspace directory containing mesh.yml",
				"Point --config (or MESH_CONFIG) at the mesh config file",
			},
		)
	}

	opts, err := redis.ParseURL(redisURL())
	if err != nil {
		return nil, nil, nil, printer.Error(
			"Invalid Redis URL",
			fmt.Sprintf("Could not parse %q: %v", redisURL(), err),
			[]string{"Use the form redis://host:port, e.g. redis://localhost:6379"},
		)
	}

	store, err := mesh.NewStore(opts, cfg.Workspace)
	if err != nil {
		return nil, nil, nil, printer.Error(
			"Store not available",
			fmt.Sprintf("Could not open the workspace store: %v", err),
			nil,
		)
	}
	return cfg, store, opts, nil
}

// buildRegistry creates a read-only adapter per enabled subsystem, the same
// wiring meshd uses.
func buildRegistry(cfg *config.MeshConfig, opts *redis.Options) (*adapter.Registry, error) {
	reader := adapter.NewRedisReader(opts)
	registry := adapter.NewRegistry()

	for _, system := range cfg.EnabledSubsystems() {
		a, err := adapter.NewSystemAdapter(adapter.Config{
			WorkspaceID: cfg.Workspace,
			ReadOnly:    true,
		}, system, reader)
		if err != nil {
			return nil, fmt.Errorf("adapter for %s: %w", system, err)
		}
		registry.Register(a)
	}
	return registry, nil
}
