package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Plan, drift report, negotiation, insight route and policy persistence.
// These records are the contract external tooling (dashboards, ops consoles)
// reads back; the mesh writes them, consumers only read.

// SavePlan persists a plan. Saving an active plan archives the previously
// active plan for the same timeframe, preserving the invariant of exactly
// one active plan per (workspace, timeframe).
func (s *Store) SavePlan(ctx context.Context, p *Plan) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	if p.Status == PlanStatusActive {
		prevID, err := s.rdb.Get(ctx, ActivePlanKey(s.workspaceID, p.Timeframe)).Result()
		if err != nil && !IsNotFound(err) {
			return fmt.Errorf("failed to read active plan pointer: %w", err)
		}
		if prevID != "" && prevID != p.ID {
			prevKey := PlanKey(s.workspaceID, prevID)
			if err := s.rdb.HSet(ctx, prevKey, "status", string(PlanStatusArchived)).Err(); err != nil {
				return fmt.Errorf("failed to archive plan %s: %w", prevID, err)
			}
		}
	}

	hash, err := PlanToHash(p)
	if err != nil {
		return fmt.Errorf("failed to serialize plan: %w", err)
	}
	if err := s.rdb.HSet(ctx, PlanKey(s.workspaceID, p.ID), hash).Err(); err != nil {
		return fmt.Errorf("failed to write plan to Redis: %w", err)
	}

	if p.Status == PlanStatusActive {
		if err := s.rdb.Set(ctx, ActivePlanKey(s.workspaceID, p.Timeframe), p.ID, 0).Err(); err != nil {
			return fmt.Errorf("failed to set active plan pointer: %w", err)
		}
	}

	return nil
}

// GetPlan retrieves a plan by ID.
// Returns (nil, redis.Nil) if the plan doesn't exist.
func (s *Store) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	hashData, err := s.rdb.HGetAll(ctx, PlanKey(s.workspaceID, planID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read plan from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	plan, err := HashToPlan(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize plan: %w", err)
	}
	return plan, nil
}

// ActivePlan retrieves the active plan for a timeframe.
// Returns (nil, redis.Nil) if no plan is active.
func (s *Store) ActivePlan(ctx context.Context, timeframe Timeframe) (*Plan, error) {
	planID, err := s.rdb.Get(ctx, ActivePlanKey(s.workspaceID, timeframe)).Result()
	if err != nil {
		if IsNotFound(err) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read active plan pointer: %w", err)
	}
	return s.GetPlan(ctx, planID)
}

// CreateDriftReport persists a drift report, indexes it by detection time
// and publishes it on the drift events channel.
func (s *Store) CreateDriftReport(ctx context.Context, d *DriftReport) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid drift report: %w", err)
	}

	hash, err := DriftReportToHash(d)
	if err != nil {
		return fmt.Errorf("failed to serialize drift report: %w", err)
	}
	if err := s.rdb.HSet(ctx, DriftReportKey(s.workspaceID, d.ID), hash).Err(); err != nil {
		return fmt.Errorf("failed to write drift report to Redis: %w", err)
	}

	z := redis.Z{Score: float64(d.DetectedAt.UnixMilli()), Member: d.ID}
	if err := s.rdb.ZAdd(ctx, DriftIndexKey(s.workspaceID), z).Err(); err != nil {
		return fmt.Errorf("failed to index drift report: %w", err)
	}

	reportJSON, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal drift report for event: %w", err)
	}
	if err := s.rdb.Publish(ctx, DriftEventsChannel(s.workspaceID), reportJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish drift event: %w", err)
	}

	return nil
}

// GetDriftReport retrieves a drift report by ID.
// Returns (nil, redis.Nil) if the report doesn't exist.
func (s *Store) GetDriftReport(ctx context.Context, reportID string) (*DriftReport, error) {
	hashData, err := s.rdb.HGetAll(ctx, DriftReportKey(s.workspaceID, reportID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read drift report from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	report, err := HashToDriftReport(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize drift report: %w", err)
	}
	return report, nil
}

// SetDriftStatus transitions a drift report's status. The mesh creates
// reports as detected; external actors acknowledge, resolve or dismiss them.
// Resolved and dismissed are terminal.
func (s *Store) SetDriftStatus(ctx context.Context, reportID string, status DriftStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}

	report, err := s.GetDriftReport(ctx, reportID)
	if err != nil {
		return fmt.Errorf("failed to load drift report %s: %w", reportID, err)
	}
	if !report.Status.Open() {
		return fmt.Errorf("drift report %s is %s, cannot transition to %s", reportID, report.Status, status)
	}
	if status == DriftStatusDetected {
		return fmt.Errorf("drift report cannot transition back to detected")
	}

	key := DriftReportKey(s.workspaceID, reportID)
	if err := s.rdb.HSet(ctx, key, "status", string(status)).Err(); err != nil {
		return fmt.Errorf("failed to update drift status: %w", err)
	}

	return nil
}

// OpenDriftReports returns all reports still in detected or acknowledged
// status, newest first.
func (s *Store) OpenDriftReports(ctx context.Context) ([]*DriftReport, error) {
	ids, err := s.rdb.ZRevRange(ctx, DriftIndexKey(s.workspaceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read drift index: %w", err)
	}

	reports := make([]*DriftReport, 0, len(ids))
	for _, id := range ids {
		report, err := s.GetDriftReport(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if report.Status.Open() {
			reports = append(reports, report)
		}
	}

	return reports, nil
}

// CreateNegotiation persists a pending negotiation and indexes it by
// creation time. Idempotent on the negotiation ID.
func (s *Store) CreateNegotiation(ctx context.Context, n *Negotiation) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid negotiation: %w", err)
	}

	key := NegotiationKey(s.workspaceID, n.ID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check negotiation existence: %w", err)
	}
	if exists > 0 {
		return nil
	}

	hash, err := NegotiationToHash(n)
	if err != nil {
		return fmt.Errorf("failed to serialize negotiation: %w", err)
	}
	if err := s.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write negotiation to Redis: %w", err)
	}

	z := redis.Z{Score: float64(n.CreatedAt.UnixMilli()), Member: n.ID}
	if err := s.rdb.ZAdd(ctx, NegotiationIndexKey(s.workspaceID), z).Err(); err != nil {
		return fmt.Errorf("failed to index negotiation: %w", err)
	}

	return nil
}

// GetNegotiation retrieves a negotiation by ID.
// Returns (nil, redis.Nil) if the negotiation doesn't exist.
func (s *Store) GetNegotiation(ctx context.Context, negotiationID string) (*Negotiation, error) {
	hashData, err := s.rdb.HGetAll(ctx, NegotiationKey(s.workspaceID, negotiationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read negotiation from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	neg, err := HashToNegotiation(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize negotiation: %w", err)
	}
	return neg, nil
}

// CompleteNegotiation performs the single pending -> completed transition,
// attaching the result and confidence. A completed negotiation is an
// idempotent artifact and is never re-opened.
func (s *Store) CompleteNegotiation(ctx context.Context, negotiationID string, result *NegotiationResult, confidence float64) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %v", confidence)
	}

	neg, err := s.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return fmt.Errorf("failed to load negotiation %s: %w", negotiationID, err)
	}
	if neg.Status == NegotiationStatusCompleted {
		return fmt.Errorf("negotiation %s is already completed", negotiationID)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	key := NegotiationKey(s.workspaceID, negotiationID)
	fields := map[string]interface{}{
		"result":       string(resultJSON),
		"confidence":   fmt.Sprintf("%v", confidence),
		"status":       string(NegotiationStatusCompleted),
		"completed_at": time.Now().UTC().UnixMilli(),
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to complete negotiation: %w", err)
	}

	return nil
}

// PendingNegotiations returns all negotiations still pending, newest first.
func (s *Store) PendingNegotiations(ctx context.Context) ([]*Negotiation, error) {
	ids, err := s.rdb.ZRevRange(ctx, NegotiationIndexKey(s.workspaceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read negotiation index: %w", err)
	}

	pending := make([]*Negotiation, 0, len(ids))
	for _, id := range ids {
		neg, err := s.GetNegotiation(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if neg.Status == NegotiationStatusPending {
			pending = append(pending, neg)
		}
	}

	return pending, nil
}

// SaveInsightRoute persists an insight route and adds it to the route index.
func (s *Store) SaveInsightRoute(ctx context.Context, r *InsightRoute) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid insight route: %w", err)
	}

	hash, err := InsightRouteToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize insight route: %w", err)
	}
	if err := s.rdb.HSet(ctx, InsightRouteKey(s.workspaceID, r.ID), hash).Err(); err != nil {
		return fmt.Errorf("failed to write insight route to Redis: %w", err)
	}
	if err := s.rdb.SAdd(ctx, InsightRouteIndexKey(s.workspaceID), r.ID).Err(); err != nil {
		return fmt.Errorf("failed to index insight route: %w", err)
	}

	return nil
}

// DeleteInsightRoute removes an insight route.
func (s *Store) DeleteInsightRoute(ctx context.Context, routeID string) error {
	if err := s.rdb.Del(ctx, InsightRouteKey(s.workspaceID, routeID)).Err(); err != nil {
		return fmt.Errorf("failed to delete insight route: %w", err)
	}
	if err := s.rdb.SRem(ctx, InsightRouteIndexKey(s.workspaceID), routeID).Err(); err != nil {
		return fmt.Errorf("failed to unindex insight route: %w", err)
	}
	return nil
}

// InsightRoutes returns all routes for the workspace.
func (s *Store) InsightRoutes(ctx context.Context) ([]*InsightRoute, error) {
	ids, err := s.rdb.SMembers(ctx, InsightRouteIndexKey(s.workspaceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read route index: %w", err)
	}

	routes := make([]*InsightRoute, 0, len(ids))
	for _, id := range ids {
		hashData, err := s.rdb.HGetAll(ctx, InsightRouteKey(s.workspaceID, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read insight route: %w", err)
		}
		if len(hashData) == 0 {
			continue
		}
		route, err := HashToInsightRoute(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize insight route: %w", err)
		}
		routes = append(routes, route)
	}

	return routes, nil
}

// SavePolicy persists the workspace policy as a single JSON value.
// The whole policy is replaced in one write, matching the copy-on-write
// update model.
func (s *Store) SavePolicy(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	policyJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}
	if err := s.rdb.Set(ctx, PolicyKey(s.workspaceID), policyJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to write policy to Redis: %w", err)
	}

	return nil
}

// GetPolicy retrieves the workspace policy.
// Returns (nil, redis.Nil) if no policy has been saved.
func (s *Store) GetPolicy(ctx context.Context) (*Policy, error) {
	policyJSON, err := s.rdb.Get(ctx, PolicyKey(s.workspaceID)).Result()
	if err != nil {
		if IsNotFound(err) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read policy from Redis: %w", err)
	}

	var p Policy
	if err := json.Unmarshal([]byte(policyJSON), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	return &p, nil
}
