// Package negotiation resolves conflicts between subsystems by aggregating
// their positions on an issue into one decision with a confidence score.
//
// Each participant contributes a position in [0,1] read through its adapter,
// conceptually "how strongly does this subsystem prefer the proposed
// outcome". The strategy decides how positions are combined:
//
//   - consensus: unweighted average.
//   - weighted: positions scaled by configured per-subsystem weights.
//   - risk-adjusted: weighted, with each position discounted by the
//     subsystem's standing risk estimate.
//   - opportunity: weighted, with each position boosted by the subsystem's
//     standing opportunity value.
//
// Confidence rewards both strong average preference and low disagreement:
// mean(agreement) * (1 - min(stddev(agreement), 1)).
package negotiation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/total-audio/meshos/internal/adapter"
	"github.com/total-audio/meshos/internal/config"
	"github.com/total-audio/meshos/internal/logging"
	"github.com/total-audio/meshos/pkg/mesh"
)

// Engine runs negotiations between registered subsystems.
type Engine struct {
	workspaceID string
	registry    *adapter.Registry
	store       *mesh.Store
	subsystems  map[string]config.Subsystem
	log         zerolog.Logger
}

// NewEngine creates a negotiation engine. The subsystem map supplies the
// per-participant weight, risk and opportunity values the weighted
// strategies use; participants absent from the map negotiate with weight 1
// and neutral risk/opportunity.
func NewEngine(workspaceID string, registry *adapter.Registry, store *mesh.Store, subsystems map[string]config.Subsystem) *Engine {
	return &Engine{
		workspaceID: workspaceID,
		registry:    registry,
		store:       store,
		subsystems:  subsystems,
		log:         logging.New("negotiation", workspaceID),
	}
}

// Request describes one conflict to resolve.
type Request struct {
	Participants []mesh.Participant
	Context      mesh.NegotiationContext
	Strategy     mesh.Strategy
}

// Negotiate creates a pending negotiation record, gathers every
// participant's position on the issue, aggregates them per the strategy and
// completes the record with the decision. Participants whose adapters
// cannot be read are excluded from the aggregate; the negotiation fails
// only when no position at all is readable, in which case the record stays
// pending for a later retry.
func (e *Engine) Negotiate(ctx context.Context, req Request) (*mesh.Negotiation, error) {
	if err := req.Strategy.Validate(); err != nil {
		return nil, err
	}
	if len(req.Participants) == 0 {
		return nil, fmt.Errorf("negotiation needs at least one participant")
	}
	if req.Context.Issue == "" {
		return nil, fmt.Errorf("negotiation context needs an issue")
	}

	neg := &mesh.Negotiation{
		ID:           uuid.New().String(),
		WorkspaceID:  e.workspaceID,
		Participants: req.Participants,
		Context:      req.Context,
		Strategy:     req.Strategy,
		Status:       mesh.NegotiationStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.CreateNegotiation(ctx, neg); err != nil {
		return nil, fmt.Errorf("failed to create negotiation: %w", err)
	}

	positions := e.gatherPositions(ctx, req)
	if len(positions) == 0 {
		return nil, fmt.Errorf("no participant position readable for issue %q", req.Context.Issue)
	}

	agreement := e.agreementScores(req.Strategy, positions)
	confidence := Confidence(values(agreement))
	result := buildResult(req, agreement)

	if err := e.store.CompleteNegotiation(ctx, neg.ID, result, confidence); err != nil {
		return nil, fmt.Errorf("failed to complete negotiation: %w", err)
	}

	e.log.Info().
		Str("negotiation_id", neg.ID).
		Str("issue", req.Context.Issue).
		Str("strategy", string(req.Strategy)).
		Float64("confidence", confidence).
		Msg("negotiation completed")

	return e.store.GetNegotiation(ctx, neg.ID)
}

// gatherPositions reads each participant's position on the issue. Missing
// adapters and failed reads drop that participant from the aggregate.
func (e *Engine) gatherPositions(ctx context.Context, req Request) map[mesh.Participant]float64 {
	positions := make(map[mesh.Participant]float64, len(req.Participants))
	for _, p := range req.Participants {
		a := e.registry.Get(p)
		if a == nil {
			e.log.Debug().Str("participant", string(p)).Msg("no adapter registered, excluding from negotiation")
			continue
		}
		res := a.Position(ctx, req.Context.Issue)
		if !res.Success {
			e.log.Debug().Str("participant", string(p)).Str("err", res.Err).Msg("position unreadable, excluding from negotiation")
			continue
		}
		positions[p] = res.Data
	}
	return positions
}

// agreementScores converts raw positions into per-participant agreement
// scores. Weighted strategies scale each position by an effective weight
// normalised against the mean effective weight, so equal weights reduce
// every strategy to plain consensus. Scores are clamped to [0,1].
func (e *Engine) agreementScores(strategy mesh.Strategy, positions map[mesh.Participant]float64) map[string]float64 {
	weights := make(map[mesh.Participant]float64, len(positions))
	var total float64
	for p := range positions {
		w := e.effectiveWeight(strategy, p)
		weights[p] = w
		total += w
	}

	mean := total / float64(len(positions))
	if mean <= 0 {
		// Degenerate weighting, fall back to consensus.
		mean = 1
		for p := range weights {
			weights[p] = 1
		}
	}

	agreement := make(map[string]float64, len(positions))
	for p, pos := range positions {
		agreement[string(p)] = clamp01(pos * weights[p] / mean)
	}
	return agreement
}

// effectiveWeight returns the strategy-specific averaging weight for one
// participant.
func (e *Engine) effectiveWeight(strategy mesh.Strategy, p mesh.Participant) float64 {
	if strategy == mesh.StrategyConsensus {
		return 1
	}

	sub, ok := e.subsystems[string(p)]
	if !ok {
		return 1
	}
	w := sub.Weight
	if w <= 0 {
		w = 1
	}

	switch strategy {
	case mesh.StrategyRiskAdjusted:
		w *= 1 - clamp01(sub.Risk)
	case mesh.StrategyOpportunity:
		w *= 1 + clamp01(sub.Opportunity)
	}
	return w
}

// Confidence scores a completed negotiation from its agreement values:
// mean * (1 - min(population stddev, 1)). Empty input scores zero.
func Confidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	stddev := math.Sqrt(variance / float64(len(scores)))
	if stddev > 1 {
		stddev = 1
	}

	return clamp01(mean * (1 - stddev))
}

// buildResult turns the aggregated agreement into the negotiation's single
// decision. The group mean decides the direction: at or above 0.5 the
// decision proceeds, below it holds.
func buildResult(req Request, agreement map[string]float64) *mesh.NegotiationResult {
	var sum float64
	for _, s := range agreement {
		sum += s
	}
	mean := sum / float64(len(agreement))

	result := &mesh.NegotiationResult{
		Agreement: agreement,
	}
	if mean >= 0.5 {
		result.Decision = fmt.Sprintf("proceed: %s", req.Context.DecisionNeeded)
		result.Actions = []string{fmt.Sprintf("execute decision for %q", req.Context.Issue)}
	} else {
		result.Decision = fmt.Sprintf("hold: %s", req.Context.DecisionNeeded)
		result.Actions = []string{fmt.Sprintf("revisit %q when positions shift", req.Context.Issue)}
	}
	result.Rationale = fmt.Sprintf("%s of %d participants: group support %.2f",
		req.Strategy, len(agreement), mean)
	return result
}

func values(m map[string]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
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
