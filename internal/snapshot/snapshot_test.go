package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/total-audio/meshos/internal/adapter"
	"github.com/total-audio/meshos/pkg/mesh"
)

func newStaticAdapter(t *testing.T, state mesh.SystemState) *adapter.StaticAdapter {
	t.Helper()
	a, err := adapter.NewStaticAdapter(adapter.Config{WorkspaceID: "ws-1", ReadOnly: true}, state)
	require.NoError(t, err)
	return a
}

func state(system mesh.Participant, health mesh.Health, load float64) mesh.SystemState {
	return mesh.SystemState{
		SystemName: system,
		Health:     health,
		Load:       load,
		Metrics:    map[string]float64{},
		Alerts:     []string{},
		ObservedAt: time.Now().UTC(),
	}
}

func setupStore(t *testing.T) *mesh.Store {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	store, err := mesh.NewStore(&redis.Options{Addr: mr.Addr()}, "ws-1")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBuildCollectsAllSystems(t *testing.T) {
	reg := adapter.NewRegistry()
	reg.Register(newStaticAdapter(t, state(mesh.ParticipantAutopilot, mesh.HealthHealthy, 0.2)))
	reg.Register(newStaticAdapter(t, state(mesh.ParticipantCoach, mesh.HealthDegraded, 0.8)))

	engine := NewEngine("ws-1", reg, setupStore(t), time.Second)
	gc := engine.Build(context.Background())

	require.Len(t, gc.Systems, 2)
	assert.Equal(t, "ws-1", gc.WorkspaceID)
	// Registry order is stable: autopilot before coach.
	assert.Equal(t, mesh.ParticipantAutopilot, gc.Systems[0].SystemName)
	assert.Equal(t, mesh.ParticipantCoach, gc.Systems[1].SystemName)
}

func TestBuildDegradesFailedReads(t *testing.T) {
	healthy := newStaticAdapter(t, state(mesh.ParticipantAutopilot, mesh.HealthHealthy, 0.2))
	failing := newStaticAdapter(t, state(mesh.ParticipantScenes, mesh.HealthHealthy, 0.1))
	failing.Fail("connection refused")
	panicking := newStaticAdapter(t, state(mesh.ParticipantTalent, mesh.HealthHealthy, 0.1))
	panicking.Panics()

	reg := adapter.NewRegistry()
	reg.Register(healthy)
	reg.Register(failing)
	reg.Register(panicking)

	engine := NewEngine("ws-1", reg, setupStore(t), time.Second)
	gc := engine.Build(context.Background())

	// One adapter failure degrades that one entry; it never aborts the build.
	require.Len(t, gc.Systems, 3)
	byName := map[mesh.Participant]mesh.SystemState{}
	for _, s := range gc.Systems {
		byName[s.SystemName] = s
	}
	assert.Equal(t, mesh.HealthHealthy, byName[mesh.ParticipantAutopilot].Health)
	assert.Equal(t, mesh.HealthDown, byName[mesh.ParticipantScenes].Health)
	assert.Equal(t, mesh.HealthDown, byName[mesh.ParticipantTalent].Health)
}

func TestBuildDerivesSignals(t *testing.T) {
	reg := adapter.NewRegistry()
	reg.Register(newStaticAdapter(t, state(mesh.ParticipantAutopilot, mesh.HealthHealthy, 0.2)))
	down := newStaticAdapter(t, state(mesh.ParticipantMIG, mesh.HealthHealthy, 0.1))
	down.Fail("offline")
	reg.Register(down)

	engine := NewEngine("ws-1", reg, setupStore(t), time.Second)
	gc := engine.Build(context.Background())

	assert.Contains(t, gc.Opportunities, "autopilot has spare capacity (load 0.20)")
	assert.Contains(t, gc.Threats, "mig is down")
}

func TestBuildFillsCoordinationState(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// Seed an active plan, a pending negotiation and an open drift report.
	now := time.Now().UTC()
	plan := &mesh.Plan{
		ID:          uuid.New().String(),
		WorkspaceID: "ws-1",
		Timeframe:   mesh.Timeframe7d,
		Confidence:  0.5,
		GeneratedAt: now,
		ValidUntil:  now.Add(mesh.Timeframe7d.Duration()),
		Status:      mesh.PlanStatusActive,
	}
	require.NoError(t, store.SavePlan(ctx, plan))

	neg := &mesh.Negotiation{
		ID:           uuid.New().String(),
		WorkspaceID:  "ws-1",
		Participants: []mesh.Participant{mesh.ParticipantCoach, mesh.ParticipantScenes},
		Context:      mesh.NegotiationContext{Issue: "timing", DecisionNeeded: "week"},
		Strategy:     mesh.StrategyConsensus,
		Status:       mesh.NegotiationStatusPending,
		CreatedAt:    now,
	}
	require.NoError(t, store.CreateNegotiation(ctx, neg))

	report := &mesh.DriftReport{
		ID:          uuid.New().String(),
		WorkspaceID: "ws-1",
		DriftType:   "creative-vs-targeting",
		Systems:     []mesh.Participant{mesh.ParticipantCMG, mesh.ParticipantAutopilot},
		Score:       0.9,
		Severity:    mesh.DriftSeverityHigh,
		Analysis:    "targeting trails creative direction",
		Corrections: []mesh.Correction{{System: mesh.ParticipantAutopilot, Action: "realign", Priority: 8, Rationale: "drift"}},
		Status:      mesh.DriftStatusDetected,
		DetectedAt:  now,
	}
	require.NoError(t, store.CreateDriftReport(ctx, report))

	reg := adapter.NewRegistry()
	reg.Register(newStaticAdapter(t, state(mesh.ParticipantAutopilot, mesh.HealthHealthy, 0.2)))

	engine := NewEngine("ws-1", reg, store, time.Second)
	gc := engine.Build(ctx)

	assert.Equal(t, plan.ID, gc.ActivePlans[mesh.Timeframe7d])
	assert.Equal(t, []string{neg.ID}, gc.Negotiations)
	assert.Equal(t, 1, gc.Drift.OpenReports)
	assert.Equal(t, 1, gc.Drift.HighSeverity)
	assert.InDelta(t, 0.9, gc.Drift.MaxScore, 1e-9)
	require.Len(t, gc.Contradictions, 1)
	assert.Contains(t, gc.Contradictions[0], "creative-vs-targeting")
	assert.Contains(t, gc.Threats, "1 high-severity drift report(s) open")
}
