package mesh

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a test store connected to a miniredis instance
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewStore(&redis.Options{Addr: mr.Addr()}, "test-workspace")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func newTestMessage(target Participant) *Message {
	return &Message{
		ID:          uuid.New().String(),
		WorkspaceID: "test-workspace",
		Source:      ParticipantDrift,
		Target:      target,
		Type:        "correction_request",
		Payload:     map[string]any{"score": 0.8},
		Status:      MessageStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestNewStore(t *testing.T) {
	t.Run("creates store successfully", func(t *testing.T) {
		store, _ := setupTestStore(t)
		assert.NotNil(t, store)
		assert.Equal(t, "test-workspace", store.WorkspaceID())
	})

	t.Run("rejects empty workspace ID", func(t *testing.T) {
		_, err := NewStore(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "workspace ID cannot be empty")
	})
}

func TestCreateMessage(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	t.Run("persists pending message", func(t *testing.T) {
		msg := newTestMessage(ParticipantPlanning)
		require.NoError(t, store.CreateMessage(ctx, msg))

		got, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, MessageStatusPending, got.Status)
		assert.Equal(t, msg.Type, got.Type)
		assert.Equal(t, 0.8, got.Payload["score"])
	})

	t.Run("rejects non-pending message", func(t *testing.T) {
		msg := newTestMessage(ParticipantPlanning)
		msg.Status = MessageStatusCompleted
		assert.Error(t, store.CreateMessage(ctx, msg))
	})

	t.Run("retried send with same ID does not duplicate", func(t *testing.T) {
		msg := newTestMessage(ParticipantAutopilot)
		require.NoError(t, store.CreateMessage(ctx, msg))
		require.NoError(t, store.CreateMessage(ctx, msg))

		queued, err := store.MessagesForSystem(ctx, ParticipantAutopilot, 10)
		require.NoError(t, err)
		assert.Len(t, queued, 1)
	})

	t.Run("rejects unknown participant", func(t *testing.T) {
		msg := newTestMessage(ParticipantPlanning)
		msg.Target = "nobody"
		err := store.CreateMessage(ctx, msg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid message")
	})
}

func TestMessageTerminalTransitions(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	t.Run("mark processed is terminal", func(t *testing.T) {
		msg := newTestMessage(ParticipantPlanning)
		require.NoError(t, store.CreateMessage(ctx, msg))

		require.NoError(t, store.MarkProcessed(ctx, msg.ID, "plan generated"))

		got, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, MessageStatusCompleted, got.Status)
		assert.Equal(t, "plan generated", got.Result)
		assert.False(t, got.ProcessedAt.IsZero())

		// No transition out of a terminal state.
		assert.Error(t, store.MarkFailed(ctx, msg.ID, "late failure"))
		assert.Error(t, store.MarkProcessed(ctx, msg.ID, "again"))
	})

	t.Run("mark failed records the error", func(t *testing.T) {
		msg := newTestMessage(ParticipantPlanning)
		require.NoError(t, store.CreateMessage(ctx, msg))

		require.NoError(t, store.MarkFailed(ctx, msg.ID, "handler unavailable"))

		got, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, MessageStatusFailed, got.Status)
		assert.Equal(t, "handler unavailable", got.Error)
	})

	t.Run("terminal messages leave the pending index", func(t *testing.T) {
		msg := newTestMessage(ParticipantPlanning)
		require.NoError(t, store.CreateMessage(ctx, msg))
		require.NoError(t, store.MarkProcessed(ctx, msg.ID, "done"))

		pending, err := store.PendingMessages(ctx, 100)
		require.NoError(t, err)
		for _, m := range pending {
			assert.NotEqual(t, msg.ID, m.ID)
		}
	})
}

func TestPendingMessagesOrder(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		msg := newTestMessage(ParticipantPlanning)
		msg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.CreateMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	pending, err := store.PendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, m := range pending {
		assert.Equal(t, ids[i], m.ID, "messages should come back in creation order")
	}
}

func TestMessagesForSystem(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	t.Run("pops queued messages in order", func(t *testing.T) {
		first := newTestMessage(ParticipantCoach)
		second := newTestMessage(ParticipantCoach)
		require.NoError(t, store.CreateMessage(ctx, first))
		require.NoError(t, store.CreateMessage(ctx, second))

		got, err := store.MessagesForSystem(ctx, ParticipantCoach, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, first.ID, got[0].ID)
		assert.Equal(t, second.ID, got[1].ID)

		// Queue is drained.
		again, err := store.MessagesForSystem(ctx, ParticipantCoach, 10)
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("rejects engine names", func(t *testing.T) {
		_, err := store.MessagesForSystem(ctx, ParticipantPlanning, 10)
		assert.Error(t, err)
	})
}

func newTestPlan(timeframe Timeframe) *Plan {
	now := time.Now().UTC()
	return &Plan{
		ID:          uuid.New().String(),
		WorkspaceID: "test-workspace",
		Timeframe:   timeframe,
		Objectives: []Objective{
			{ID: "o1", Title: "stabilise identity rollout", Priority: 8},
			{ID: "o2", Title: "expand scene coverage", Priority: 5},
		},
		Actions: []PlanAction{
			{ID: "a1", ObjectiveID: "o1", Agent: ParticipantIdentityKernel, Description: "ship kernel fixes", Duration: "3d"},
		},
		Risks:         []Risk{{Description: "talent churn", Probability: 0.3, Impact: 0.6}},
		Opportunities: []Opportunity{{Description: "scene momentum", Value: 0.7}},
		Confidence:    0.55,
		GeneratedAt:   now,
		ValidUntil:    now.Add(timeframe.Duration()),
		Status:        PlanStatusActive,
	}
}

func TestSavePlanArchivesPredecessor(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	first := newTestPlan(Timeframe7d)
	require.NoError(t, store.SavePlan(ctx, first))

	active, err := store.ActivePlan(ctx, Timeframe7d)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	second := newTestPlan(Timeframe7d)
	require.NoError(t, store.SavePlan(ctx, second))

	// The new plan is active, the old one archived.
	active, err = store.ActivePlan(ctx, Timeframe7d)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	old, err := store.GetPlan(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanStatusArchived, old.Status)
}

func TestSavePlanSeparateTimeframes(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	weekly := newTestPlan(Timeframe7d)
	quarterly := newTestPlan(Timeframe90d)
	require.NoError(t, store.SavePlan(ctx, weekly))
	require.NoError(t, store.SavePlan(ctx, quarterly))

	// One active plan per timeframe; they do not displace each other.
	gotWeekly, err := store.ActivePlan(ctx, Timeframe7d)
	require.NoError(t, err)
	assert.Equal(t, weekly.ID, gotWeekly.ID)

	gotQuarterly, err := store.ActivePlan(ctx, Timeframe90d)
	require.NoError(t, err)
	assert.Equal(t, quarterly.ID, gotQuarterly.ID)

	_, err = store.ActivePlan(ctx, Timeframe30d)
	assert.True(t, IsNotFound(err))
}

func TestPlanRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	plan := newTestPlan(Timeframe30d)
	require.NoError(t, store.SavePlan(ctx, plan))

	got, err := store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.Objectives, got.Objectives)
	assert.Equal(t, plan.Actions, got.Actions)
	assert.Equal(t, plan.Risks, got.Risks)
	assert.Equal(t, plan.Confidence, got.Confidence)
	assert.Equal(t, plan.ValidUntil.UnixMilli(), got.ValidUntil.UnixMilli())
}

func newTestDriftReport(score float64) *DriftReport {
	report := &DriftReport{
		ID:          uuid.New().String(),
		WorkspaceID: "test-workspace",
		DriftType:   "creative-vs-targeting",
		Systems:     []Participant{ParticipantCMG, ParticipantAutopilot},
		Score:       score,
		Severity:    SeverityForScore(score),
		Analysis:    "targeting trails creative direction",
		Status:      DriftStatusDetected,
		DetectedAt:  time.Now().UTC(),
	}
	if report.Severity == DriftSeverityHigh {
		report.Corrections = []Correction{{
			System:    ParticipantAutopilot,
			Action:    "realign campaign targeting",
			Priority:  8,
			Rationale: "drift exceeds tolerance",
		}}
	}
	return report
}

func TestDriftReportLifecycle(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	t.Run("created reports are open", func(t *testing.T) {
		report := newTestDriftReport(0.9)
		require.NoError(t, store.CreateDriftReport(ctx, report))

		open, err := store.OpenDriftReports(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, report.ID, open[0].ID)
		assert.Equal(t, DriftSeverityHigh, open[0].Severity)
		assert.NotEmpty(t, open[0].Corrections)
	})

	t.Run("acknowledged stays open, resolved closes", func(t *testing.T) {
		report := newTestDriftReport(0.5)
		require.NoError(t, store.CreateDriftReport(ctx, report))

		require.NoError(t, store.SetDriftStatus(ctx, report.ID, DriftStatusAcknowledged))
		got, err := store.GetDriftReport(ctx, report.ID)
		require.NoError(t, err)
		assert.True(t, got.Status.Open())

		require.NoError(t, store.SetDriftStatus(ctx, report.ID, DriftStatusResolved))

		// Terminal: no further transitions.
		err = store.SetDriftStatus(ctx, report.ID, DriftStatusDismissed)
		assert.Error(t, err)
	})

	t.Run("cannot transition back to detected", func(t *testing.T) {
		report := newTestDriftReport(0.2)
		require.NoError(t, store.CreateDriftReport(ctx, report))
		assert.Error(t, store.SetDriftStatus(ctx, report.ID, DriftStatusDetected))
	})
}

func TestNegotiationLifecycle(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	neg := &Negotiation{
		ID:           uuid.New().String(),
		WorkspaceID:  "test-workspace",
		Participants: []Participant{ParticipantCoach, ParticipantAutopilot, ParticipantScenes},
		Context:      NegotiationContext{Issue: "release timing", DecisionNeeded: "launch week"},
		Strategy:     StrategyConsensus,
		Status:       NegotiationStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.CreateNegotiation(ctx, neg))

	pending, err := store.PendingNegotiations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	result := &NegotiationResult{
		Decision:  "launch week 42",
		Rationale: "group mean preference 0.5",
		Agreement: map[string]float64{"coach": 0.5, "autopilot": 0.5, "scenes": 0.5},
	}
	require.NoError(t, store.CompleteNegotiation(ctx, neg.ID, result, 0.42))

	got, err := store.GetNegotiation(ctx, neg.ID)
	require.NoError(t, err)
	assert.Equal(t, NegotiationStatusCompleted, got.Status)
	assert.Equal(t, "launch week 42", got.Result.Decision)
	assert.InDelta(t, 0.42, got.Confidence, 1e-9)
	assert.False(t, got.CompletedAt.IsZero())

	// Never re-opened, never re-completed.
	assert.Error(t, store.CompleteNegotiation(ctx, neg.ID, result, 0.9))

	pending, err = store.PendingNegotiations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInsightRoutes(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	minVal := 0.5
	route := &InsightRoute{
		ID:          uuid.New().String(),
		WorkspaceID: "test-workspace",
		InsightType: "drift_detected",
		Rule:        RouteRule{Conditions: map[string]Condition{"score": {Min: &minVal}}},
		Destination: "ops-console",
		Priority:    10,
		Enabled:     true,
	}
	require.NoError(t, store.SaveInsightRoute(ctx, route))

	routes, err := store.InsightRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "ops-console", routes[0].Destination)
	require.NotNil(t, routes[0].Rule.Conditions["score"].Min)
	assert.Equal(t, 0.5, *routes[0].Rule.Conditions["score"].Min)

	require.NoError(t, store.DeleteInsightRoute(ctx, route.ID))
	routes, err = store.InsightRoutes(ctx)
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestPolicyPersistence(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetPolicy(ctx)
	assert.True(t, IsNotFound(err))

	policy := DefaultPolicy("test-workspace")
	policy.QuietHours = &QuietHours{Start: "22:00", End: "07:00", Timezone: "Europe/London"}
	require.NoError(t, store.SavePolicy(ctx, policy))

	got, err := store.GetPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy.RiskCeilings, got.RiskCeilings)
	assert.Equal(t, "22:00", got.QuietHours.Start)
}

func TestStateCounters(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	n, err := store.GetStateInt(ctx, "actions:2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = store.IncrState(ctx, "actions:2026-09-01", 3)
	require.NoError(t, err)
	n, err = store.GetStateInt(ctx, "actions:2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSubscribeMessageEvents(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	sub, err := store.SubscribeMessageEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	msg := newTestMessage(ParticipantPlanning)
	require.NoError(t, store.CreateMessage(ctx, msg))

	select {
	case got := <-sub.Events():
		assert.Equal(t, msg.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
	}
}
