package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/total-audio/meshos/pkg/mesh"
)

const testMeshYML = `version: "1.0"
workspace: ws-cli
subsystems:
  autopilot:
    weight: 2
  cmg:
    weight: 1
`

// pointCLI writes a workspace config and points the global connection flags
// at it and at a fresh miniredis. Flags are reset when the test ends.
func pointCLI(t *testing.T) *mesh.Store {
	t.Helper()

	mr := miniredis.RunT(t)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mesh.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testMeshYML), 0644))

	flagConfig = cfgPath
	flagRedisURL = "redis://" + mr.Addr()
	t.Cleanup(func() {
		flagConfig = ""
		flagRedisURL = ""
	})

	opts, err := redis.ParseURL(flagRedisURL)
	require.NoError(t, err)
	store, err := mesh.NewStore(opts, "ws-cli")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConfigPrecedence(t *testing.T) {
	t.Run("flag wins over environment", func(t *testing.T) {
		t.Setenv("MESH_CONFIG", "/env/mesh.yml")
		t.Setenv("REDIS_URL", "redis://env:6379")

		flagConfig = "/flag/mesh.yml"
		flagRedisURL = "redis://flag:6379"
		defer func() {
			flagConfig = ""
			flagRedisURL = ""
		}()

		require.Equal(t, "/flag/mesh.yml", configPath())
		require.Equal(t, "redis://flag:6379", redisURL())
	})

	t.Run("environment wins over default", func(t *testing.T) {
		t.Setenv("MESH_CONFIG", "/env/mesh.yml")
		t.Setenv("REDIS_URL", "redis://env:6379")

		require.Equal(t, "/env/mesh.yml", configPath())
		require.Equal(t, "redis://env:6379", redisURL())
	})

	t.Run("defaults apply when nothing is set", func(t *testing.T) {
		t.Setenv("MESH_CONFIG", "")
		t.Setenv("REDIS_URL", "")

		require.Equal(t, "mesh.yml", configPath())
		require.Equal(t, "redis://localhost:6379", redisURL())
	})
}

func TestPolicyApply(t *testing.T) {
	t.Run("applies a policy file and defaults the workspace", func(t *testing.T) {
		store := pointCLI(t)

		policy := mesh.DefaultPolicy("placeholder")
		policy.WorkspaceID = ""
		policy.RiskCeilings.MaxRiskScore = 0.55
		raw, err := yaml.Marshal(policy)
		require.NoError(t, err)

		file := filepath.Join(t.TempDir(), "policy.yml")
		require.NoError(t, os.WriteFile(file, raw, 0644))

		require.NoError(t, runPolicyApply(policyApplyCmd, []string{file}))

		saved, err := store.GetPolicy(context.Background())
		require.NoError(t, err)
		require.Equal(t, "ws-cli", saved.WorkspaceID)
		require.Equal(t, 0.55, saved.RiskCeilings.MaxRiskScore)
		require.False(t, saved.UpdatedAt.IsZero())
	})

	t.Run("rejects a policy targeting another workspace", func(t *testing.T) {
		pointCLI(t)

		policy := mesh.DefaultPolicy("ws-other")
		raw, err := yaml.Marshal(policy)
		require.NoError(t, err)

		file := filepath.Join(t.TempDir(), "policy.yml")
		require.NoError(t, os.WriteFile(file, raw, 0644))

		err = runPolicyApply(policyApplyCmd, []string{file})
		require.EqualError(t, err, "Workspace mismatch")
	})

	t.Run("rejects an unreadable file", func(t *testing.T) {
		pointCLI(t)

		err := runPolicyApply(policyApplyCmd, []string{filepath.Join(t.TempDir(), "missing.yml")})
		require.EqualError(t, err, "Policy file not readable")
	})
}

func TestRoutes(t *testing.T) {
	t.Run("add, list and remove a route", func(t *testing.T) {
		store := pointCLI(t)

		routeType = "drift"
		routeDestination = "pager"
		routePriority = 9
		routeField = "drift_score"
		defer func() {
			routeType = ""
			routeDestination = ""
			routePriority = 0
			routeField = ""
		}()
		require.NoError(t, routesAddCmd.Flags().Set("min", "0.7"))

		require.NoError(t, runRoutesAdd(routesAddCmd, nil))

		routes, err := store.InsightRoutes(context.Background())
		require.NoError(t, err)
		require.Len(t, routes, 1)
		require.Equal(t, "drift", routes[0].InsightType)
		require.Equal(t, "pager", routes[0].Destination)
		require.Equal(t, 9, routes[0].Priority)
		require.True(t, routes[0].Enabled)

		cond, ok := routes[0].Rule.Conditions["drift_score"]
		require.True(t, ok)
		require.NotNil(t, cond.Min)
		require.Equal(t, 0.7, *cond.Min)
		require.Nil(t, cond.Max)

		require.NoError(t, runRoutesList(routesListCmd, nil))

		require.NoError(t, runRoutesRemove(routesRemoveCmd, []string{routes[0].ID}))
		routes, err = store.InsightRoutes(context.Background())
		require.NoError(t, err)
		require.Empty(t, routes)
	})

	t.Run("add requires type and destination", func(t *testing.T) {
		pointCLI(t)

		routeType = ""
		routeDestination = ""
		err := runRoutesAdd(routesAddCmd, nil)
		require.EqualError(t, err, "Missing route fields")
	})
}
