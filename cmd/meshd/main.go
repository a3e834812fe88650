// meshd runs the mesh coordination daemon for one workspace: periodic
// cycles plus the HTTP status surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/total-audio/meshos/internal/adapter"
	"github.com/total-audio/meshos/internal/config"
	"github.com/total-audio/meshos/internal/orchestrator"
	"github.com/total-audio/meshos/pkg/mesh"
)

func main() {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	configPath := os.Getenv("MESH_CONFIG")
	if configPath == "" {
		configPath = "mesh.yml"
	}
	httpAddr := os.Getenv("MESH_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	interval := time.Minute
	if raw := os.Getenv("MESH_CYCLE_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid MESH_CYCLE_INTERVAL: %v\n", err)
			os.Exit(1)
		}
		interval = parsed
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}

	store, err := mesh.NewStore(redisOpts, cfg.Workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, redisOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to build adapters: %v\n", err)
		os.Exit(1)
	}

	engine, err := orchestrator.NewEngine(cfg, store, registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create orchestrator: %v\n", err)
		os.Exit(1)
	}

	statusServer := orchestrator.NewStatusServer(engine, store)
	if err := statusServer.Start(httpAddr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start status server: %v\n", err)
		os.Exit(1)
	}
	defer statusServer.Shutdown(context.Background())

	fmt.Printf("meshd starting for workspace %q with %d subsystems (cycle every %s)\n",
		cfg.Workspace, len(cfg.EnabledSubsystems()), interval)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(runCtx, interval)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		engine.Stop()
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator error: %v\n", runErr)
			os.Exit(1)
		}
	}

	fmt.Println("meshd stopped")
}

// buildRegistry creates a read-only adapter per enabled subsystem, all
// reading published state over the same Redis connection settings.
func buildRegistry(cfg *config.MeshConfig, redisOpts *redis.Options) (*adapter.Registry, error) {
	reader := adapter.NewRedisReader(redisOpts)
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
