package adapter

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/total-audio/meshos/pkg/mesh"
)

func healthyState(system mesh.Participant) mesh.SystemState {
	return mesh.SystemState{
		SystemName: system,
		Health:     mesh.HealthHealthy,
		Load:       0.4,
		Metrics:    map[string]float64{"targeting": 0.3},
		Alerts:     []string{},
		ObservedAt: time.Now().UTC(),
	}
}

func TestConfigReadOnlyInvariant(t *testing.T) {
	t.Run("rejects writable config", func(t *testing.T) {
		_, err := NewStaticAdapter(Config{WorkspaceID: "ws-1", ReadOnly: false}, healthyState(mesh.ParticipantAutopilot))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrWritableAdapter)
	})

	t.Run("rejects empty workspace", func(t *testing.T) {
		_, err := NewStaticAdapter(Config{ReadOnly: true}, healthyState(mesh.ParticipantAutopilot))
		assert.Error(t, err)
	})

	t.Run("accepts read-only config", func(t *testing.T) {
		a, err := NewStaticAdapter(Config{WorkspaceID: "ws-1", ReadOnly: true}, healthyState(mesh.ParticipantAutopilot))
		require.NoError(t, err)
		assert.Equal(t, mesh.ParticipantAutopilot, a.System())
	})
}

func TestGuardNeverEscapes(t *testing.T) {
	cfg := Config{WorkspaceID: "ws-1", ReadOnly: true}

	t.Run("errors fold into the envelope", func(t *testing.T) {
		a, err := NewStaticAdapter(cfg, healthyState(mesh.ParticipantCoach))
		require.NoError(t, err)
		a.Fail("subsystem offline")

		result := a.GetState(context.Background())
		assert.False(t, result.Success)
		assert.Contains(t, result.Err, "subsystem offline")
		assert.False(t, result.Timestamp.IsZero())
	})

	t.Run("panics fold into the envelope", func(t *testing.T) {
		a, err := NewStaticAdapter(cfg, healthyState(mesh.ParticipantCoach))
		require.NoError(t, err)
		a.Panics()

		result := a.GetState(context.Background())
		assert.False(t, result.Success)
		assert.Contains(t, result.Err, "adapter panic")
	})
}

func TestPosition(t *testing.T) {
	cfg := Config{WorkspaceID: "ws-1", ReadOnly: true}
	ctx := context.Background()

	t.Run("issue-specific position wins", func(t *testing.T) {
		state := healthyState(mesh.ParticipantScenes)
		state.Metrics["position"] = 0.9
		state.Metrics["position:launch"] = 0.2
		a, err := NewStaticAdapter(cfg, state)
		require.NoError(t, err)

		result := a.Position(ctx, "launch")
		require.True(t, result.Success)
		assert.Equal(t, 0.2, result.Data)
	})

	t.Run("general position is the fallback", func(t *testing.T) {
		state := healthyState(mesh.ParticipantScenes)
		state.Metrics["position"] = 0.9
		a, err := NewStaticAdapter(cfg, state)
		require.NoError(t, err)

		result := a.Position(ctx, "launch")
		require.True(t, result.Success)
		assert.Equal(t, 0.9, result.Data)
	})

	t.Run("derived from load when nothing published", func(t *testing.T) {
		state := healthyState(mesh.ParticipantScenes)
		a, err := NewStaticAdapter(cfg, state)
		require.NoError(t, err)

		result := a.Position(ctx, "launch")
		require.True(t, result.Success)
		assert.InDelta(t, 0.6, result.Data, 1e-9)
	})
}

func setupRedisAdapter(t *testing.T, system mesh.Participant) (*SystemAdapter, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	reader := NewRedisReader(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { reader.Close() })

	a, err := NewSystemAdapter(Config{WorkspaceID: "ws-1", ReadOnly: true}, system, reader)
	require.NoError(t, err)
	return a, mr
}

func publishState(t *testing.T, mr *miniredis.Miniredis, system mesh.Participant, health string, load float64, metrics map[string]float64) {
	t.Helper()
	metricsJSON, err := json.Marshal(metrics)
	require.NoError(t, err)

	key := mesh.SystemStateKey("ws-1", system)
	mr.HSet(key, "health", health)
	mr.HSet(key, "load", strconv.FormatFloat(load, 'f', -1, 64))
	mr.HSet(key, "metrics", string(metricsJSON))
	mr.HSet(key, "alerts", `["queue backlog"]`)
	mr.HSet(key, "updated_at_ms", "1700000000000")
}

func TestSystemAdapter(t *testing.T) {
	ctx := context.Background()

	t.Run("reads published state", func(t *testing.T) {
		a, mr := setupRedisAdapter(t, mesh.ParticipantAutopilot)
		publishState(t, mr, mesh.ParticipantAutopilot, "degraded", 0.4, map[string]float64{"targeting": 0.3})

		result := a.GetState(ctx)
		require.True(t, result.Success, result.Err)
		assert.Equal(t, mesh.HealthDegraded, result.Data.Health)
		assert.Equal(t, 0.4, result.Data.Load)
		assert.Equal(t, 0.3, result.Data.Metrics["targeting"])
		assert.Equal(t, []string{"queue backlog"}, result.Data.Alerts)
	})

	t.Run("unpublished state fails closed", func(t *testing.T) {
		a, _ := setupRedisAdapter(t, mesh.ParticipantTalent)

		result := a.GetState(ctx)
		assert.False(t, result.Success)
		assert.Contains(t, result.Err, "has not published state")
	})

	t.Run("invalid health fails closed", func(t *testing.T) {
		a, mr := setupRedisAdapter(t, mesh.ParticipantMIG)
		key := mesh.SystemStateKey("ws-1", mesh.ParticipantMIG)
		mr.HSet(key, "health", "wobbly")
		mr.HSet(key, "load", "0.2")

		result := a.GetState(ctx)
		assert.False(t, result.Success)
		assert.Contains(t, result.Err, "invalid health")
	})

	t.Run("metric lookup", func(t *testing.T) {
		a, mr := setupRedisAdapter(t, mesh.ParticipantCMG)
		publishState(t, mr, mesh.ParticipantCMG, "healthy", 0.4, map[string]float64{"direction": 0.8})

		result := a.Metric(ctx, "direction")
		require.True(t, result.Success)
		assert.Equal(t, 0.8, result.Data)

		missing := a.Metric(ctx, "unknown")
		assert.False(t, missing.Success)
	})

	t.Run("rejects engine names", func(t *testing.T) {
		mr := miniredis.NewMiniRedis()
		require.NoError(t, mr.Start())
		t.Cleanup(mr.Close)
		reader := NewRedisReader(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { reader.Close() })

		_, err := NewSystemAdapter(Config{WorkspaceID: "ws-1", ReadOnly: true}, mesh.ParticipantPolicy, reader)
		assert.Error(t, err)
	})
}

func TestRegistry(t *testing.T) {
	cfg := Config{WorkspaceID: "ws-1", ReadOnly: true}
	reg := NewRegistry()
	assert.Equal(t, 0, reg.Len())

	for _, system := range []mesh.Participant{mesh.ParticipantScenes, mesh.ParticipantAutopilot} {
		a, err := NewStaticAdapter(cfg, healthyState(system))
		require.NoError(t, err)
		reg.Register(a)
	}

	assert.Equal(t, 2, reg.Len())
	assert.NotNil(t, reg.Get(mesh.ParticipantScenes))
	assert.Nil(t, reg.Get(mesh.ParticipantCoach))
	// Stable order for deterministic fan-out.
	assert.Equal(t, []mesh.Participant{mesh.ParticipantAutopilot, mesh.ParticipantScenes}, reg.Systems())
}
