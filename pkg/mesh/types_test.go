package mesh

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipantValidate(t *testing.T) {
	t.Run("accepts subsystem names", func(t *testing.T) {
		for _, p := range Subsystems() {
			assert.NoError(t, p.Validate())
			assert.True(t, p.IsSubsystem())
		}
	})

	t.Run("accepts engine names", func(t *testing.T) {
		for _, p := range Engines() {
			assert.NoError(t, p.Validate())
			assert.False(t, p.IsSubsystem())
		}
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		err := Participant("mystery").Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown participant")
	})
}

func TestSeverityForScore(t *testing.T) {
	// Severity is partitioned exactly at the 0.3 and 0.7 boundaries.
	tests := []struct {
		score float64
		want  DriftSeverity
	}{
		{0.0, DriftSeverityLow},
		{0.3, DriftSeverityLow},
		{0.30001, DriftSeverityMedium},
		{0.5, DriftSeverityMedium},
		{0.7, DriftSeverityMedium},
		{0.70001, DriftSeverityHigh},
		{1.0, DriftSeverityHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityForScore(tt.score), "score %v", tt.score)
	}
}

func TestMessageValidate(t *testing.T) {
	valid := func() *Message {
		return &Message{
			ID:          uuid.New().String(),
			WorkspaceID: "ws-1",
			Source:      ParticipantDrift,
			Target:      ParticipantPlanning,
			Type:        "plan_request",
			Status:      MessageStatusPending,
		}
	}

	t.Run("accepts valid message", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects non-UUID ID", func(t *testing.T) {
		m := valid()
		m.ID = "not-a-uuid"
		assert.Error(t, m.Validate())
	})

	t.Run("rejects unknown target", func(t *testing.T) {
		m := valid()
		m.Target = "dashboard"
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid target")
	})

	t.Run("rejects empty type", func(t *testing.T) {
		m := valid()
		m.Type = ""
		assert.Error(t, m.Validate())
	})
}

func TestMessageStatusTerminal(t *testing.T) {
	assert.False(t, MessageStatusPending.Terminal())
	assert.True(t, MessageStatusCompleted.Terminal())
	assert.True(t, MessageStatusFailed.Terminal())
}

func TestDriftReportValidate(t *testing.T) {
	valid := func() *DriftReport {
		return &DriftReport{
			ID:          uuid.New().String(),
			WorkspaceID: "ws-1",
			DriftType:   "creative-vs-targeting",
			Systems:     []Participant{ParticipantCMG, ParticipantAutopilot},
			Score:       0.5,
			Severity:    DriftSeverityMedium,
			Status:      DriftStatusDetected,
		}
	}

	t.Run("accepts valid report", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects single-system report", func(t *testing.T) {
		d := valid()
		d.Systems = []Participant{ParticipantCMG}
		assert.Error(t, d.Validate())
	})

	t.Run("rejects out-of-range score", func(t *testing.T) {
		d := valid()
		d.Score = 1.2
		assert.Error(t, d.Validate())
	})

	t.Run("high severity requires a correction", func(t *testing.T) {
		d := valid()
		d.Score = 0.9
		d.Severity = DriftSeverityHigh
		err := d.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "correction")

		d.Corrections = []Correction{{
			System:    ParticipantAutopilot,
			Action:    "realign targeting",
			Priority:  8,
			Rationale: "targeting trails creative direction",
		}}
		assert.NoError(t, d.Validate())
	})
}

func TestDriftStatusOpen(t *testing.T) {
	assert.True(t, DriftStatusDetected.Open())
	assert.True(t, DriftStatusAcknowledged.Open())
	assert.False(t, DriftStatusResolved.Open())
	assert.False(t, DriftStatusDismissed.Open())
}

func TestPlanValidate(t *testing.T) {
	valid := func() *Plan {
		return &Plan{
			ID:          uuid.New().String(),
			WorkspaceID: "ws-1",
			Timeframe:   Timeframe7d,
			Confidence:  0.6,
			Status:      PlanStatusActive,
		}
	}

	t.Run("accepts valid plan", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects objective priority outside 1-10", func(t *testing.T) {
		p := valid()
		p.Objectives = []Objective{{ID: "o1", Title: "grow reach", Priority: 11}}
		assert.Error(t, p.Validate())
	})

	t.Run("rejects risk outside [0,1]", func(t *testing.T) {
		p := valid()
		p.Risks = []Risk{{Description: "churn", Probability: 1.5, Impact: 0.4}}
		assert.Error(t, p.Validate())
	})

	t.Run("rejects unknown timeframe", func(t *testing.T) {
		p := valid()
		p.Timeframe = "14d"
		assert.Error(t, p.Validate())
	})
}

func TestTimeframeDuration(t *testing.T) {
	assert.Equal(t, 7*24.0, Timeframe7d.Duration().Hours())
	assert.Equal(t, 30*24.0, Timeframe30d.Duration().Hours())
	assert.Equal(t, 90*24.0, Timeframe90d.Duration().Hours())
}

func TestNegotiationValidate(t *testing.T) {
	valid := func() *Negotiation {
		return &Negotiation{
			ID:           uuid.New().String(),
			WorkspaceID:  "ws-1",
			Participants: []Participant{ParticipantCoach, ParticipantAutopilot},
			Context:      NegotiationContext{Issue: "budget split", DecisionNeeded: "allocation"},
			Strategy:     StrategyConsensus,
			Status:       NegotiationStatusPending,
		}
	}

	t.Run("accepts valid negotiation", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects empty participants", func(t *testing.T) {
		n := valid()
		n.Participants = nil
		assert.Error(t, n.Validate())
	})

	t.Run("completed negotiation must carry a result", func(t *testing.T) {
		n := valid()
		n.Status = NegotiationStatusCompleted
		assert.Error(t, n.Validate())

		n.Result = &NegotiationResult{Decision: "split 60/40", Rationale: "consensus"}
		assert.NoError(t, n.Validate())
	})
}

func TestPolicyValidate(t *testing.T) {
	t.Run("default policy is valid", func(t *testing.T) {
		assert.NoError(t, DefaultPolicy("ws-1").Validate())
	})

	t.Run("rejects bad quiet hours clock", func(t *testing.T) {
		p := DefaultPolicy("ws-1")
		p.QuietHours = &QuietHours{Start: "25:00", End: "07:00"}
		assert.Error(t, p.Validate())
	})

	t.Run("rejects risk ceiling outside [0,1]", func(t *testing.T) {
		p := DefaultPolicy("ws-1")
		p.RiskCeilings.MaxRiskScore = 1.5
		assert.Error(t, p.Validate())
	})
}

func TestPolicyClone(t *testing.T) {
	p := DefaultPolicy("ws-1")
	p.QuietHours = &QuietHours{Start: "22:00", End: "07:00"}

	clone := p.Clone()
	clone.QuietHours.Start = "23:00"
	clone.AutonomyCaps.RequireHumanApproval = append(clone.AutonomyCaps.RequireHumanApproval, "post")

	// Mutating the clone must not leak into the original.
	assert.Equal(t, "22:00", p.QuietHours.Start)
	assert.Equal(t, []string{"bulk_email"}, p.AutonomyCaps.RequireHumanApproval)
}

func TestParseClock(t *testing.T) {
	mins, err := ParseClock("07:30")
	require.NoError(t, err)
	assert.Equal(t, 7*60+30, mins)

	_, err = ParseClock("7.30")
	assert.Error(t, err)
}
