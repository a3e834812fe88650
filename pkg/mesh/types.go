package mesh

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Participant is a named party in mesh coordination: either an observed
// subsystem or one of the mesh's own engines. The set is closed - messages
// and negotiations reject unknown participant names.
type Participant string

// Subsystem participants. These are independently-operated engines observed
// (never controlled) by the mesh.
const (
	ParticipantAutopilot      Participant = "autopilot"
	ParticipantMAL            Participant = "mal"
	ParticipantCoach          Participant = "coach"
	ParticipantTalent         Participant = "talent"
	ParticipantScenes         Participant = "scenes"
	ParticipantMIG            Participant = "mig"
	ParticipantCMG            Participant = "cmg"
	ParticipantFusion         Participant = "fusion"
	ParticipantIdentityKernel Participant = "identityKernel"
	ParticipantRCF            Participant = "rcf"
)

// Engine participants. These are the mesh's own components.
const (
	ParticipantPlanning    Participant = "planning"
	ParticipantNegotiation Participant = "negotiation"
	ParticipantDrift       Participant = "drift"
	ParticipantInsight     Participant = "insight"
	ParticipantPolicy      Participant = "policy"
	ParticipantContext     Participant = "context"
)

// Subsystems returns the closed set of observed subsystem names.
func Subsystems() []Participant {
	return []Participant{
		ParticipantAutopilot, ParticipantMAL, ParticipantCoach,
		ParticipantTalent, ParticipantScenes, ParticipantMIG,
		ParticipantCMG, ParticipantFusion, ParticipantIdentityKernel,
		ParticipantRCF,
	}
}

// Engines returns the closed set of mesh engine names.
func Engines() []Participant {
	return []Participant{
		ParticipantPlanning, ParticipantNegotiation, ParticipantDrift,
		ParticipantInsight, ParticipantPolicy, ParticipantContext,
	}
}

// Validate checks that the participant is a known subsystem or engine name.
func (p Participant) Validate() error {
	for _, s := range Subsystems() {
		if p == s {
			return nil
		}
	}
	for _, e := range Engines() {
		if p == e {
			return nil
		}
	}
	return fmt.Errorf("unknown participant: %q", p)
}

// IsSubsystem reports whether the participant is an observed subsystem
// (as opposed to a mesh engine).
func (p Participant) IsSubsystem() bool {
	for _, s := range Subsystems() {
		if p == s {
			return true
		}
	}
	return false
}

// IsEngine reports whether the participant is one of the mesh's own
// engines.
func (p Participant) IsEngine() bool {
	for _, e := range Engines() {
		if p == e {
			return true
		}
	}
	return false
}

// Health describes a subsystem's reported health at observation time.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthDown     Health = "down"
)

// Validate checks if the Health is a valid enum value.
func (h Health) Validate() error {
	switch h {
	case HealthHealthy, HealthDegraded, HealthDown:
		return nil
	default:
		return fmt.Errorf("unknown health: %q", h)
	}
}

// SystemState is one subsystem's observed state within a snapshot.
// It is ephemeral: rebuilt from adapter reads every cycle, never patched.
type SystemState struct {
	SystemName Participant        `json:"system_name"` // Subsystem this state was read from
	Health     Health             `json:"health"`      // healthy, degraded or down
	Load       float64            `json:"load"`        // Normalised load in [0,1]
	Metrics    map[string]float64 `json:"metrics"`     // Subsystem-published numeric metrics
	Alerts     []string           `json:"alerts"`      // Outstanding alerts reported by the subsystem
	ObservedAt time.Time          `json:"observed_at"` // When the adapter read completed
}

// Validate checks if the SystemState has valid field values.
func (s *SystemState) Validate() error {
	if err := s.SystemName.Validate(); err != nil {
		return fmt.Errorf("invalid system name: %w", err)
	}
	if err := s.Health.Validate(); err != nil {
		return fmt.Errorf("invalid health: %w", err)
	}
	if s.Load < 0 || s.Load > 1 {
		return fmt.Errorf("load must be in [0,1], got %v", s.Load)
	}
	return nil
}

// DriftSummary condenses the open drift reports for a workspace into the
// figures the snapshot carries.
type DriftSummary struct {
	OpenReports  int     `json:"open_reports"`  // Reports still in detected/acknowledged status
	HighSeverity int     `json:"high_severity"` // Open reports with severity=high
	MaxScore     float64 `json:"max_score"`     // Highest open drift score
}

// GlobalContext is the mesh's point-in-time view of every subsystem plus the
// coordination state derived from it. A context is immutable once built and
// superseded wholesale by the next cycle - readers always observe a complete
// snapshot from a single read generation, never a mix of two.
type GlobalContext struct {
	WorkspaceID    string               `json:"workspace_id"`
	Timestamp      time.Time            `json:"timestamp"`
	Systems        []SystemState        `json:"systems"`
	Negotiations   []string             `json:"active_negotiations"` // Pending negotiation IDs
	ActivePlans    map[Timeframe]string `json:"active_plans"`        // timeframe -> active plan ID
	Drift          DriftSummary         `json:"drift_summary"`
	Opportunities  []string             `json:"opportunities"`
	Threats        []string             `json:"threats"`
	Contradictions []string             `json:"contradictions"`
}

// MessageStatus is the lifecycle state of a mesh message.
// A message is created pending and makes exactly one terminal transition,
// to completed or failed. Terminal messages are never re-opened.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusCompleted MessageStatus = "completed"
	MessageStatusFailed    MessageStatus = "failed"
)

// Validate checks if the MessageStatus is a valid enum value.
func (s MessageStatus) Validate() error {
	switch s {
	case MessageStatusPending, MessageStatusCompleted, MessageStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown message status: %q", s)
	}
}

// Terminal reports whether the status is completed or failed.
func (s MessageStatus) Terminal() bool {
	return s == MessageStatusCompleted || s == MessageStatusFailed
}

// Message is a typed, persisted communication between mesh participants.
type Message struct {
	ID          string         `json:"id"`           // UUID, also the idempotency key on retried sends
	WorkspaceID string         `json:"workspace_id"` // Tenant boundary
	Source      Participant    `json:"source"`       // Sending participant
	Target      Participant    `json:"target"`       // Receiving participant
	Type        string         `json:"type"`         // Domain message type (e.g. "plan_request")
	Payload     map[string]any `json:"payload"`      // Arbitrary JSON payload
	Status      MessageStatus  `json:"status"`       // pending until the single terminal transition
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ProcessedAt time.Time      `json:"processed_at,omitempty"` // Zero until terminal
}

// Validate checks if the Message has valid field values.
func (m *Message) Validate() error {
	if !isValidUUID(m.ID) {
		return fmt.Errorf("invalid message ID: not a valid UUID")
	}
	if m.WorkspaceID == "" {
		return fmt.Errorf("workspace ID cannot be empty")
	}
	if err := m.Source.Validate(); err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}
	if err := m.Target.Validate(); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	if m.Type == "" {
		return fmt.Errorf("message type cannot be empty")
	}
	if err := m.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	return nil
}

// Timeframe is a planning horizon.
type Timeframe string

const (
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
	Timeframe90d Timeframe = "90d"
)

// Timeframes returns all planning horizons in ascending order.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe7d, Timeframe30d, Timeframe90d}
}

// Validate checks if the Timeframe is a valid enum value.
func (t Timeframe) Validate() error {
	switch t {
	case Timeframe7d, Timeframe30d, Timeframe90d:
		return nil
	default:
		return fmt.Errorf("unknown timeframe: %q", t)
	}
}

// Duration returns the wall-clock length of the timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe7d:
		return 7 * 24 * time.Hour
	case Timeframe30d:
		return 30 * 24 * time.Hour
	case Timeframe90d:
		return 90 * 24 * time.Hour
	default:
		return 0
	}
}

// PlanStatus is the lifecycle state of a plan. Exactly one plan per
// (workspace, timeframe) is active; activating a successor archives it.
type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusArchived PlanStatus = "archived"
)

// Validate checks if the PlanStatus is a valid enum value.
func (s PlanStatus) Validate() error {
	switch s {
	case PlanStatusActive, PlanStatusArchived:
		return nil
	default:
		return fmt.Errorf("unknown plan status: %q", s)
	}
}

// Objective is one prioritised goal within a plan.
type Objective struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"` // 1 (lowest) to 10 (highest)
}

// PlanAction is a concrete step assigned to a subsystem agent.
type PlanAction struct {
	ID          string      `json:"id"`
	ObjectiveID string      `json:"objective_id"` // Objective this action serves
	Agent       Participant `json:"agent"`        // Subsystem expected to carry it out
	Description string      `json:"description"`
	Duration    string      `json:"duration_estimate"` // Human-readable estimate, e.g. "3d"
}

// Milestone marks a dated checkpoint within the plan's window.
type Milestone struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	TargetDate time.Time `json:"target_date"`
}

// Risk is a scored threat to the plan.
type Risk struct {
	Description string  `json:"description"`
	Probability float64 `json:"probability"` // [0,1]
	Impact      float64 `json:"impact"`      // [0,1]
}

// Opportunity is a scored upside the plan could exploit.
type Opportunity struct {
	Description string  `json:"description"`
	Value       float64 `json:"value"` // [0,1]
}

// Plan is a time-boxed set of objectives, actions, milestones, risks and
// opportunities for one planning horizon.
type Plan struct {
	ID            string        `json:"id"`
	WorkspaceID   string        `json:"workspace_id"`
	Timeframe     Timeframe     `json:"timeframe"`
	Objectives    []Objective   `json:"objectives"` // Sorted descending by priority
	Actions       []PlanAction  `json:"actions"`
	Milestones    []Milestone   `json:"milestones"`
	Risks         []Risk        `json:"risks"`
	Opportunities []Opportunity `json:"opportunities"`
	Confidence    float64       `json:"confidence"` // [0,1]
	GeneratedAt   time.Time     `json:"generated_at"`
	ValidUntil    time.Time     `json:"valid_until"` // generated_at + timeframe
	Status        PlanStatus    `json:"status"`
}

// Validate checks if the Plan has valid field values.
func (p *Plan) Validate() error {
	if !isValidUUID(p.ID) {
		return fmt.Errorf("invalid plan ID: not a valid UUID")
	}
	if p.WorkspaceID == "" {
		return fmt.Errorf("workspace ID cannot be empty")
	}
	if err := p.Timeframe.Validate(); err != nil {
		return fmt.Errorf("invalid timeframe: %w", err)
	}
	if err := p.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %v", p.Confidence)
	}
	for i, o := range p.Objectives {
		if o.Priority < 1 || o.Priority > 10 {
			return fmt.Errorf("objective %d: priority must be in [1,10], got %d", i, o.Priority)
		}
	}
	for i, r := range p.Risks {
		if r.Probability < 0 || r.Probability > 1 || r.Impact < 0 || r.Impact > 1 {
			return fmt.Errorf("risk %d: probability and impact must be in [0,1]", i)
		}
	}
	for i, o := range p.Opportunities {
		if o.Value < 0 || o.Value > 1 {
			return fmt.Errorf("opportunity %d: value must be in [0,1]", i)
		}
	}
	return nil
}

// DriftSeverity buckets a drift score: low for score <= 0.3, medium for
// score <= 0.7, high above.
type DriftSeverity string

const (
	DriftSeverityLow    DriftSeverity = "low"
	DriftSeverityMedium DriftSeverity = "medium"
	DriftSeverityHigh   DriftSeverity = "high"
)

// Validate checks if the DriftSeverity is a valid enum value.
func (s DriftSeverity) Validate() error {
	switch s {
	case DriftSeverityLow, DriftSeverityMedium, DriftSeverityHigh:
		return nil
	default:
		return fmt.Errorf("unknown drift severity: %q", s)
	}
}

// SeverityForScore returns the severity bucket for a drift score.
// Boundaries are exactly 0.3 and 0.7.
func SeverityForScore(score float64) DriftSeverity {
	switch {
	case score <= 0.3:
		return DriftSeverityLow
	case score <= 0.7:
		return DriftSeverityMedium
	default:
		return DriftSeverityHigh
	}
}

// DriftStatus is the lifecycle state of a drift report. Reports are created
// detected; external actors move them to acknowledged, resolved or dismissed.
type DriftStatus string

const (
	DriftStatusDetected     DriftStatus = "detected"
	DriftStatusAcknowledged DriftStatus = "acknowledged"
	DriftStatusResolved     DriftStatus = "resolved"
	DriftStatusDismissed    DriftStatus = "dismissed"
)

// Validate checks if the DriftStatus is a valid enum value.
func (s DriftStatus) Validate() error {
	switch s {
	case DriftStatusDetected, DriftStatusAcknowledged, DriftStatusResolved, DriftStatusDismissed:
		return nil
	default:
		return fmt.Errorf("unknown drift status: %q", s)
	}
}

// Open reports whether the report still needs attention.
func (s DriftStatus) Open() bool {
	return s == DriftStatusDetected || s == DriftStatusAcknowledged
}

// Correction is a recommended corrective action attached to a drift report.
type Correction struct {
	System    Participant `json:"system"`   // Subsystem that should act
	Action    string      `json:"action"`   // What it should do
	Priority  int         `json:"priority"` // 1 (lowest) to 10 (highest)
	Rationale string      `json:"rationale"`
}

// DriftReport records measured disagreement between two subsystems' views of
// the same fact. Every high-severity report carries at least one correction.
type DriftReport struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id"`
	DriftType   string        `json:"drift_type"` // Configured check name, e.g. "creative-vs-targeting"
	Systems     []Participant `json:"systems_involved"`
	Score       float64       `json:"drift_score"` // [0,1]
	Severity    DriftSeverity `json:"severity"`
	Analysis    string        `json:"analysis"`
	Corrections []Correction  `json:"recommended_corrections"`
	Status      DriftStatus   `json:"status"`
	DetectedAt  time.Time     `json:"detected_at"`
}

// Validate checks if the DriftReport has valid field values.
func (d *DriftReport) Validate() error {
	if !isValidUUID(d.ID) {
		return fmt.Errorf("invalid drift report ID: not a valid UUID")
	}
	if d.WorkspaceID == "" {
		return fmt.Errorf("workspace ID cannot be empty")
	}
	if d.DriftType == "" {
		return fmt.Errorf("drift type cannot be empty")
	}
	if len(d.Systems) < 2 {
		return fmt.Errorf("drift report needs at least two systems, got %d", len(d.Systems))
	}
	for i, s := range d.Systems {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("system %d: %w", i, err)
		}
	}
	if d.Score < 0 || d.Score > 1 {
		return fmt.Errorf("drift score must be in [0,1], got %v", d.Score)
	}
	if err := d.Severity.Validate(); err != nil {
		return fmt.Errorf("invalid severity: %w", err)
	}
	if err := d.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if d.Severity == DriftSeverityHigh && len(d.Corrections) == 0 {
		return fmt.Errorf("high-severity report must carry at least one correction")
	}
	return nil
}

// Strategy selects how a negotiation aggregates participant positions into
// one decision.
type Strategy string

const (
	StrategyConsensus    Strategy = "consensus"
	StrategyWeighted     Strategy = "weighted"
	StrategyRiskAdjusted Strategy = "risk-adjusted"
	StrategyOpportunity  Strategy = "opportunity"
)

// Validate checks if the Strategy is a valid enum value.
func (s Strategy) Validate() error {
	switch s {
	case StrategyConsensus, StrategyWeighted, StrategyRiskAdjusted, StrategyOpportunity:
		return nil
	default:
		return fmt.Errorf("unknown strategy: %q", s)
	}
}

// NegotiationStatus is the lifecycle state of a negotiation. Negotiations
// move pending -> completed exactly once; a new conflict produces a new
// negotiation record rather than re-opening an old one.
type NegotiationStatus string

const (
	NegotiationStatusPending   NegotiationStatus = "pending"
	NegotiationStatusCompleted NegotiationStatus = "completed"
)

// Validate checks if the NegotiationStatus is a valid enum value.
func (s NegotiationStatus) Validate() error {
	switch s {
	case NegotiationStatusPending, NegotiationStatusCompleted:
		return nil
	default:
		return fmt.Errorf("unknown negotiation status: %q", s)
	}
}

// NegotiationContext describes the conflict a negotiation resolves.
type NegotiationContext struct {
	Issue          string            `json:"issue"`
	DecisionNeeded string            `json:"decision_needed"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NegotiationResult is the single decision a completed negotiation produced.
type NegotiationResult struct {
	Decision  string             `json:"decision"`
	Rationale string             `json:"rationale"`
	Agreement map[string]float64 `json:"participants_agreement"` // participant -> agreement score
	Actions   []string           `json:"actions"`
}

// Negotiation converts multiple subsystem positions into one decision with a
// confidence score.
type Negotiation struct {
	ID           string             `json:"id"`
	WorkspaceID  string             `json:"workspace_id"`
	Participants []Participant      `json:"participants"`
	Context      NegotiationContext `json:"context"`
	Strategy     Strategy           `json:"strategy"`
	Result       *NegotiationResult `json:"result,omitempty"` // Nil until completed
	Confidence   float64            `json:"confidence"`       // [0,1]
	Status       NegotiationStatus  `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	CompletedAt  time.Time          `json:"completed_at,omitempty"` // Zero until completed
}

// Validate checks if the Negotiation has valid field values.
func (n *Negotiation) Validate() error {
	if !isValidUUID(n.ID) {
		return fmt.Errorf("invalid negotiation ID: not a valid UUID")
	}
	if n.WorkspaceID == "" {
		return fmt.Errorf("workspace ID cannot be empty")
	}
	if len(n.Participants) == 0 {
		return fmt.Errorf("negotiation needs at least one participant")
	}
	for i, p := range n.Participants {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("participant %d: %w", i, err)
		}
	}
	if err := n.Strategy.Validate(); err != nil {
		return fmt.Errorf("invalid strategy: %w", err)
	}
	if err := n.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if n.Confidence < 0 || n.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %v", n.Confidence)
	}
	if n.Status == NegotiationStatusCompleted && n.Result == nil {
		return fmt.Errorf("completed negotiation must carry a result")
	}
	return nil
}

// Condition constrains one numeric or string field of an insight.
// Either a range check (Min/Max, both optional) or an exact match.
type Condition struct {
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Equals string   `json:"equals,omitempty"`
}

// RouteRule is the set of conditions an insight must satisfy for a route to
// fire. All conditions must hold (AND semantics).
type RouteRule struct {
	Conditions map[string]Condition `json:"conditions,omitempty"`
}

// InsightRoute is a standing subscription dispatching matching insights to a
// destination. Many routes may match one insight.
type InsightRoute struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	InsightType string    `json:"insight_type"`
	Rule        RouteRule `json:"rule"`
	Destination string    `json:"destination"`
	Priority    int       `json:"priority"` // Higher evaluates first
	Enabled     bool      `json:"enabled"`
}

// Validate checks if the InsightRoute has valid field values.
func (r *InsightRoute) Validate() error {
	if !isValidUUID(r.ID) {
		return fmt.Errorf("invalid route ID: not a valid UUID")
	}
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace ID cannot be empty")
	}
	if r.InsightType == "" {
		return fmt.Errorf("insight type cannot be empty")
	}
	if r.Destination == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	return nil
}

// Insight is a derived, routable fact produced by the mesh for external
// consumers (dashboards, content layer).
type Insight struct {
	Type        string             `json:"type"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Severity    string             `json:"severity,omitempty"`
	Fields      map[string]float64 `json:"fields,omitempty"` // Numeric fields matched by route conditions
	Labels      map[string]string  `json:"labels,omitempty"` // String fields matched by exact-match conditions
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
