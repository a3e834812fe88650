package mesh

import (
	"fmt"
	"time"
)

// QuietHours defines a daily window during which autonomous actions are
// blocked. Start and End are "HH:MM" in the named timezone; windows may
// cross midnight (e.g. 22:00-07:00).
type QuietHours struct {
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// ContactFatigue caps how often a single contact may be reached.
type ContactFatigue struct {
	MaxContactsPerDay      int `json:"max_contacts_per_day" yaml:"max_contacts_per_day"`
	MaxContactsPerWeek     int `json:"max_contacts_per_week" yaml:"max_contacts_per_week"`
	MinDaysBetweenContacts int `json:"min_days_between_contacts" yaml:"min_days_between_contacts"`
}

// RiskCeilings bounds the risk score of autonomous actions.
type RiskCeilings struct {
	MaxRiskScore        float64 `json:"max_risk_score" yaml:"max_risk_score"`
	RequireApprovalAbove float64 `json:"require_approval_above" yaml:"require_approval_above"`
}

// AutonomyCaps bounds how much the mesh may do without a human.
type AutonomyCaps struct {
	MaxAutonomousActionsPerDay int      `json:"max_autonomous_actions_per_day" yaml:"max_autonomous_actions_per_day"`
	RequireHumanApproval       []string `json:"require_human_approval" yaml:"require_human_approval"` // Action types always routed to a human
}

// TokenBudgets caps model-token spend per day and month.
type TokenBudgets struct {
	DailyLimit        int `json:"daily_limit" yaml:"daily_limit"`
	MonthlyLimit      int `json:"monthly_limit" yaml:"monthly_limit"`
	AlertAtPercentage int `json:"alert_at_percentage" yaml:"alert_at_percentage"` // Warning threshold, e.g. 80
}

// RateLimiting caps hourly action and message volume.
type RateLimiting struct {
	MaxActionsPerHour  int `json:"max_actions_per_hour" yaml:"max_actions_per_hour"`
	MaxMessagesPerHour int `json:"max_messages_per_hour" yaml:"max_messages_per_hour"`
}

// EthicalConstraints are the non-negotiable behavioural rules.
type EthicalConstraints struct {
	NoSpam           bool     `json:"no_spam" yaml:"no_spam"`
	RespectPrivacy   bool     `json:"respect_privacy" yaml:"respect_privacy"`
	TransparentAIUse bool     `json:"transparent_ai_use" yaml:"transparent_ai_use"`
	CustomRules      []string `json:"custom_rules,omitempty" yaml:"custom_rules,omitempty"`
}

// Policy is the workspace-wide set of safety constraints gating autonomous
// action. One live instance per workspace; updates replace the whole value
// (copy-on-write), never mutate it field-by-field while checks are in
// flight.
type Policy struct {
	WorkspaceID        string             `json:"workspace_id" yaml:"workspace_id"`
	QuietHours         *QuietHours        `json:"quiet_hours,omitempty" yaml:"quiet_hours,omitempty"`
	ContactFatigue     ContactFatigue     `json:"contact_fatigue" yaml:"contact_fatigue"`
	RiskCeilings       RiskCeilings       `json:"risk_ceilings" yaml:"risk_ceilings"`
	AutonomyCaps       AutonomyCaps       `json:"autonomy_caps" yaml:"autonomy_caps"`
	TokenBudgets       TokenBudgets       `json:"token_budgets" yaml:"token_budgets"`
	RateLimiting       RateLimiting       `json:"rate_limiting" yaml:"rate_limiting"`
	EthicalConstraints EthicalConstraints `json:"ethical_constraints" yaml:"ethical_constraints"`
	UpdatedAt          time.Time          `json:"updated_at" yaml:"-"`
}

// DefaultPolicy returns the conservative baseline policy for a workspace.
func DefaultPolicy(workspaceID string) *Policy {
	return &Policy{
		WorkspaceID: workspaceID,
		ContactFatigue: ContactFatigue{
			MaxContactsPerDay:      3,
			MaxContactsPerWeek:     10,
			MinDaysBetweenContacts: 2,
		},
		RiskCeilings: RiskCeilings{
			MaxRiskScore:        0.7,
			RequireApprovalAbove: 0.5,
		},
		AutonomyCaps: AutonomyCaps{
			MaxAutonomousActionsPerDay: 50,
			RequireHumanApproval:       []string{"bulk_email"},
		},
		TokenBudgets: TokenBudgets{
			DailyLimit:        100000,
			MonthlyLimit:      2000000,
			AlertAtPercentage: 80,
		},
		RateLimiting: RateLimiting{
			MaxActionsPerHour:  20,
			MaxMessagesPerHour: 100,
		},
		EthicalConstraints: EthicalConstraints{
			NoSpam:           true,
			RespectPrivacy:   true,
			TransparentAIUse: true,
		},
	}
}

// Validate checks if the Policy has valid field values.
func (p *Policy) Validate() error {
	if p.WorkspaceID == "" {
		return fmt.Errorf("workspace ID cannot be empty")
	}
	if p.RiskCeilings.MaxRiskScore < 0 || p.RiskCeilings.MaxRiskScore > 1 {
		return fmt.Errorf("max_risk_score must be in [0,1], got %v", p.RiskCeilings.MaxRiskScore)
	}
	if p.RiskCeilings.RequireApprovalAbove < 0 || p.RiskCeilings.RequireApprovalAbove > 1 {
		return fmt.Errorf("require_approval_above must be in [0,1], got %v", p.RiskCeilings.RequireApprovalAbove)
	}
	if p.TokenBudgets.AlertAtPercentage < 0 || p.TokenBudgets.AlertAtPercentage > 100 {
		return fmt.Errorf("alert_at_percentage must be in [0,100], got %d", p.TokenBudgets.AlertAtPercentage)
	}
	if p.QuietHours != nil {
		if _, err := ParseClock(p.QuietHours.Start); err != nil {
			return fmt.Errorf("invalid quiet_hours start: %w", err)
		}
		if _, err := ParseClock(p.QuietHours.End); err != nil {
			return fmt.Errorf("invalid quiet_hours end: %w", err)
		}
	}
	return nil
}

// Clone returns a deep copy of the policy. Used for copy-on-write updates.
func (p *Policy) Clone() *Policy {
	out := *p
	if p.QuietHours != nil {
		qh := *p.QuietHours
		out.QuietHours = &qh
	}
	out.AutonomyCaps.RequireHumanApproval = append([]string(nil), p.AutonomyCaps.RequireHumanApproval...)
	out.EthicalConstraints.CustomRules = append([]string(nil), p.EthicalConstraints.CustomRules...)
	return &out
}

// ParseClock parses an "HH:MM" string into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
