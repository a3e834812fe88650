package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/total-audio/meshos/internal/negotiation"
	"github.com/total-audio/meshos/internal/policy"
	"github.com/total-audio/meshos/pkg/mesh"
)

// registerHandlers binds every engine to its message handler. The dispatch
// table is the closed set of engine participants.
func (e *Engine) registerHandlers() error {
	handlers := map[mesh.Participant]func(context.Context, *mesh.Message) (string, error){
		mesh.ParticipantPlanning:    e.handlePlanning,
		mesh.ParticipantNegotiation: e.handleNegotiation,
		mesh.ParticipantDrift:       e.handleDrift,
		mesh.ParticipantInsight:     e.handleInsight,
		mesh.ParticipantPolicy:      e.handlePolicy,
		mesh.ParticipantContext:     e.handleContext,
	}
	for engine, h := range handlers {
		if err := e.router.RegisterHandler(engine, h); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", engine, err)
		}
	}
	return nil
}

// handlePlanning regenerates the plan for the requested timeframe.
// Payload: {"timeframe": "7d"}.
func (e *Engine) handlePlanning(ctx context.Context, msg *mesh.Message) (string, error) {
	timeframe := mesh.Timeframe(payloadString(msg.Payload, "timeframe"))
	plan, err := e.planner.GeneratePlan(ctx, timeframe)
	if err != nil {
		return "", err
	}
	return plan.ID, nil
}

// handleNegotiation resolves a conflict between the named participants.
// Payload: {"participants": [...], "issue": ..., "decision_needed": ...,
// "strategy": ...}.
func (e *Engine) handleNegotiation(ctx context.Context, msg *mesh.Message) (string, error) {
	req := negotiation.Request{
		Context: mesh.NegotiationContext{
			Issue:          payloadString(msg.Payload, "issue"),
			DecisionNeeded: payloadString(msg.Payload, "decision_needed"),
		},
		Strategy: mesh.Strategy(payloadString(msg.Payload, "strategy")),
	}
	if req.Strategy == "" {
		req.Strategy = mesh.StrategyConsensus
	}
	if raw, ok := msg.Payload["participants"].([]any); ok {
		for _, p := range raw {
			if name, ok := p.(string); ok {
				req.Participants = append(req.Participants, mesh.Participant(name))
			}
		}
	}

	neg, err := e.negotiator.Negotiate(ctx, req)
	if err != nil {
		return "", err
	}
	return neg.ID, nil
}

// handleDrift runs one drift pass on demand and reports how many
// divergences it found.
func (e *Engine) handleDrift(ctx context.Context, msg *mesh.Message) (string, error) {
	reports, err := e.drift.Detect(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d drift reports", len(reports)), nil
}

// handleInsight routes the insight carried in the payload and returns the
// destination list. Payload: the insight object itself.
func (e *Engine) handleInsight(ctx context.Context, msg *mesh.Message) (string, error) {
	var ins mesh.Insight
	if err := decodePayload(msg.Payload, &ins); err != nil {
		return "", fmt.Errorf("invalid insight payload: %w", err)
	}

	destinations, err := e.insights.Route(ctx, ins)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(destinations)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// handlePolicy gates the proposed action in the payload. The verdict is
// the message result either way; a blocked action is a decision, not a
// failure.
func (e *Engine) handlePolicy(ctx context.Context, msg *mesh.Message) (string, error) {
	var action policy.Action
	if err := decodePayload(msg.Payload, &action); err != nil {
		return "", fmt.Errorf("invalid action payload: %w", err)
	}

	decision := e.policies.IsActionAllowed(ctx, action)
	out, err := json.Marshal(decision)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// handleContext returns the current global context as JSON.
func (e *Engine) handleContext(ctx context.Context, msg *mesh.Message) (string, error) {
	gc := e.current.Load()
	if gc == nil {
		return "", fmt.Errorf("no context built yet")
	}
	out, err := json.Marshal(gc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

// decodePayload round-trips a JSON payload map into a typed struct.
func decodePayload(payload map[string]any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
