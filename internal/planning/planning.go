// Package planning generates time-boxed coordination plans from the current
// state of the workspace's subsystems.
//
// Plan generation is best-effort: an unreadable subsystem simply contributes
// nothing, it never blocks the plan. What the engine could and could not read
// is reflected in the plan's confidence score rather than in an error.
package planning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/total-audio/meshos/internal/adapter"
	"github.com/total-audio/meshos/internal/logging"
	"github.com/total-audio/meshos/pkg/mesh"
)

// Confidence weights. More and fresher, more consistent data raises
// confidence, with diminishing returns past 100 data points.
const (
	weightDataPoints  = 0.20
	weightQuality     = 0.30
	weightRecency     = 0.25
	weightConsistency = 0.25

	// Reads older than this contribute zero recency.
	staleWindow = time.Hour
)

// Engine produces plans for a workspace.
type Engine struct {
	workspaceID string
	registry    *adapter.Registry
	store       *mesh.Store
	log         zerolog.Logger
}

// NewEngine creates a planning engine over the registered adapters.
func NewEngine(workspaceID string, registry *adapter.Registry, store *mesh.Store) *Engine {
	return &Engine{
		workspaceID: workspaceID,
		registry:    registry,
		store:       store,
		log:         logging.New("planning", workspaceID),
	}
}

// collected is the readable slice of the workspace at planning time.
type collected struct {
	states     []mesh.SystemState
	registered int
	dataPoints int
	drift      []*mesh.DriftReport
}

// GeneratePlan builds a plan for the timeframe, persists it as the active
// plan and returns it. Any prior active plan for the same timeframe is
// archived by the store.
func (e *Engine) GeneratePlan(ctx context.Context, timeframe mesh.Timeframe) (*mesh.Plan, error) {
	if err := timeframe.Validate(); err != nil {
		return nil, err
	}

	data := e.collect(ctx)
	now := time.Now().UTC()

	objectives := deriveObjectives(timeframe, data)
	plan := &mesh.Plan{
		ID:            uuid.New().String(),
		WorkspaceID:   e.workspaceID,
		Timeframe:     timeframe,
		Objectives:    objectives,
		Actions:       deriveActions(objectives, data),
		Milestones:    deriveMilestones(objectives, timeframe, now),
		Risks:         deriveRisks(data),
		Opportunities: deriveOpportunities(data),
		Confidence:    confidence(data, now),
		GeneratedAt:   now,
		ValidUntil:    now.Add(timeframe.Duration()),
		Status:        mesh.PlanStatusActive,
	}

	if err := e.store.SavePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to save plan: %w", err)
	}

	e.log.Info().
		Str("plan_id", plan.ID).
		Str("timeframe", string(timeframe)).
		Int("objectives", len(plan.Objectives)).
		Float64("confidence", plan.Confidence).
		Msg("plan generated")

	return plan, nil
}

// collect reads every registered adapter plus the open drift reports.
// Failed reads are dropped; failures show up as reduced data quality.
func (e *Engine) collect(ctx context.Context) collected {
	systems := e.registry.Systems()
	data := collected{registered: len(systems)}

	for _, system := range systems {
		res := e.registry.Get(system).GetState(ctx)
		if !res.Success {
			e.log.Debug().Str("system", string(system)).Str("err", res.Err).Msg("state unreadable, omitting from plan")
			continue
		}
		data.states = append(data.states, res.Data)
		data.dataPoints += len(res.Data.Metrics) + len(res.Data.Alerts) + 2 // health and load
	}

	drift, err := e.store.OpenDriftReports(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to read open drift reports, planning without them")
	} else {
		data.drift = drift
		data.dataPoints += len(drift)
	}

	return data
}

// deriveObjectives turns observed problems into prioritised objectives,
// anchored by a baseline objective for the timeframe. Sorted descending by
// priority.
func deriveObjectives(timeframe mesh.Timeframe, data collected) []mesh.Objective {
	var objectives []mesh.Objective

	for _, s := range data.states {
		switch {
		case s.Health == mesh.HealthDown:
			objectives = append(objectives, mesh.Objective{
				ID:          uuid.New().String(),
				Title:       fmt.Sprintf("restore %s", s.SystemName),
				Description: fmt.Sprintf("%s is down and contributes nothing to coordination", s.SystemName),
				Priority:    9,
			})
		case s.Health == mesh.HealthDegraded:
			objectives = append(objectives, mesh.Objective{
				ID:          uuid.New().String(),
				Title:       fmt.Sprintf("stabilise %s", s.SystemName),
				Description: fmt.Sprintf("%s is degraded with %d outstanding alerts", s.SystemName, len(s.Alerts)),
				Priority:    8,
			})
		case s.Load > 0.8:
			objectives = append(objectives, mesh.Objective{
				ID:          uuid.New().String(),
				Title:       fmt.Sprintf("shed load from %s", s.SystemName),
				Description: fmt.Sprintf("%s is running at load %.2f", s.SystemName, s.Load),
				Priority:    7,
			})
		}
	}

	for _, report := range data.drift {
		priority := 6
		if report.Severity == mesh.DriftSeverityHigh {
			priority = 8
		}
		objectives = append(objectives, mesh.Objective{
			ID:          uuid.New().String(),
			Title:       fmt.Sprintf("resolve %s drift", report.DriftType),
			Description: report.Analysis,
			Priority:    priority,
		})
	}

	objectives = append(objectives, mesh.Objective{
		ID:          uuid.New().String(),
		Title:       fmt.Sprintf("advance %s marketing goals", timeframe),
		Description: "baseline coordination objective for the planning window",
		Priority:    5,
	})

	sort.SliceStable(objectives, func(i, j int) bool {
		return objectives[i].Priority > objectives[j].Priority
	})
	return objectives
}

// deriveActions assigns one concrete step per objective. Remediation work
// belonging to a specific subsystem goes to that subsystem; everything else
// goes to the least loaded healthy subsystem.
func deriveActions(objectives []mesh.Objective, data collected) []mesh.PlanAction {
	fallback := leastLoaded(data.states)

	actions := make([]mesh.PlanAction, 0, len(objectives))
	for _, o := range objectives {
		agent := ownerFor(o, data.states)
		if agent == "" {
			agent = fallback
		}
		if agent == "" {
			continue
		}
		actions = append(actions, mesh.PlanAction{
			ID:          uuid.New().String(),
			ObjectiveID: o.ID,
			Agent:       agent,
			Description: o.Title,
			Duration:    durationFor(o.Priority),
		})
	}
	return actions
}

// ownerFor matches an objective back to the subsystem it concerns.
func ownerFor(o mesh.Objective, states []mesh.SystemState) mesh.Participant {
	for _, s := range states {
		if o.Title == fmt.Sprintf("restore %s", s.SystemName) ||
			o.Title == fmt.Sprintf("stabilise %s", s.SystemName) ||
			o.Title == fmt.Sprintf("shed load from %s", s.SystemName) {
			return s.SystemName
		}
	}
	return ""
}

func leastLoaded(states []mesh.SystemState) mesh.Participant {
	var best mesh.Participant
	bestLoad := math.Inf(1)
	for _, s := range states {
		if s.Health != mesh.HealthHealthy {
			continue
		}
		if s.Load < bestLoad {
			best = s.SystemName
			bestLoad = s.Load
		}
	}
	return best
}

func durationFor(priority int) string {
	switch {
	case priority >= 8:
		return "1d"
	case priority >= 6:
		return "3d"
	default:
		return "7d"
	}
}

// deriveMilestones spaces a checkpoint per objective evenly across the
// planning window, highest priority first.
func deriveMilestones(objectives []mesh.Objective, timeframe mesh.Timeframe, now time.Time) []mesh.Milestone {
	if len(objectives) == 0 {
		return nil
	}

	step := timeframe.Duration() / time.Duration(len(objectives)+1)
	milestones := make([]mesh.Milestone, 0, len(objectives))
	for i, o := range objectives {
		milestones = append(milestones, mesh.Milestone{
			ID:         uuid.New().String(),
			Title:      fmt.Sprintf("checkpoint: %s", o.Title),
			TargetDate: now.Add(step * time.Duration(i+1)),
		})
	}
	return milestones
}

// deriveRisks scores unhealthy subsystems and high drift as threats to the
// plan.
func deriveRisks(data collected) []mesh.Risk {
	var risks []mesh.Risk
	for _, s := range data.states {
		if s.Health == mesh.HealthHealthy {
			continue
		}
		probability := 0.5
		if s.Health == mesh.HealthDown {
			probability = 0.9
		}
		risks = append(risks, mesh.Risk{
			Description: fmt.Sprintf("%s is %s and may miss its assignments", s.SystemName, s.Health),
			Probability: probability,
			Impact:      clamp01(0.4 + s.Load/2),
		})
	}
	for _, report := range data.drift {
		if report.Severity != mesh.DriftSeverityHigh {
			continue
		}
		risks = append(risks, mesh.Risk{
			Description: fmt.Sprintf("unresolved %s drift may misalign execution", report.DriftType),
			Probability: report.Score,
			Impact:      0.7,
		})
	}
	return risks
}

// deriveOpportunities surfaces spare capacity in healthy subsystems.
func deriveOpportunities(data collected) []mesh.Opportunity {
	var opportunities []mesh.Opportunity
	for _, s := range data.states {
		if s.Health != mesh.HealthHealthy || s.Load >= 0.5 {
			continue
		}
		opportunities = append(opportunities, mesh.Opportunity{
			Description: fmt.Sprintf("%s has spare capacity for additional work", s.SystemName),
			Value:       clamp01(1 - s.Load),
		})
	}
	return opportunities
}

// confidence scores the plan from how much, how complete, how fresh and how
// consistent the collected data was.
func confidence(data collected, now time.Time) float64 {
	dataPointScore := math.Min(float64(data.dataPoints)/100, 1)

	var quality float64
	if data.registered > 0 {
		quality = float64(len(data.states)) / float64(data.registered)
	}

	var recency, consistency float64
	if len(data.states) > 0 {
		var recencySum float64
		loads := make([]float64, 0, len(data.states))
		for _, s := range data.states {
			age := now.Sub(s.ObservedAt)
			if age < staleWindow {
				recencySum += 1 - float64(age)/float64(staleWindow)
			}
			loads = append(loads, s.Load)
		}
		recency = recencySum / float64(len(data.states))
		consistency = 1 - math.Min(stddev(loads), 1)
	}

	return clamp01(weightDataPoints*dataPointScore +
		weightQuality*quality +
		weightRecency*recency +
		weightConsistency*consistency)
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
