package mesh

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like
// slices and nested structs are JSON-encoded into single hash fields.
// Timestamps are stored as Unix milliseconds.

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// MessageToHash converts a Message to Redis hash format.
// The payload map is JSON-encoded.
func MessageToHash(m *Message) (map[string]interface{}, error) {
	payloadJSON, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hash := map[string]interface{}{
		"id":           m.ID,
		"workspace_id": m.WorkspaceID,
		"source":       string(m.Source),
		"target":       string(m.Target),
		"type":         m.Type,
		"payload":      string(payloadJSON),
		"status":       string(m.Status),
		"result":       m.Result,
		"error":        m.Error,
		"created_at":   timeToMs(m.CreatedAt),
		"processed_at": timeToMs(m.ProcessedAt),
	}

	return hash, nil
}

// HashToMessage converts a Redis hash back to a Message.
func HashToMessage(hash map[string]string) (*Message, error) {
	var payload map[string]any
	if payloadJSON := hash["payload"]; payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	createdAt, _ := strconv.ParseInt(hash["created_at"], 10, 64)
	processedAt, _ := strconv.ParseInt(hash["processed_at"], 10, 64)

	msg := &Message{
		ID:          hash["id"],
		WorkspaceID: hash["workspace_id"],
		Source:      Participant(hash["source"]),
		Target:      Participant(hash["target"]),
		Type:        hash["type"],
		Payload:     payload,
		Status:      MessageStatus(hash["status"]),
		Result:      hash["result"],
		Error:       hash["error"],
		CreatedAt:   msToTime(createdAt),
		ProcessedAt: msToTime(processedAt),
	}

	return msg, nil
}

// PlanToHash converts a Plan to Redis hash format.
// Objective, action, milestone, risk and opportunity slices are JSON-encoded.
func PlanToHash(p *Plan) (map[string]interface{}, error) {
	objectivesJSON, err := json.Marshal(p.Objectives)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal objectives: %w", err)
	}
	actionsJSON, err := json.Marshal(p.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	milestonesJSON, err := json.Marshal(p.Milestones)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal milestones: %w", err)
	}
	risksJSON, err := json.Marshal(p.Risks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal risks: %w", err)
	}
	opportunitiesJSON, err := json.Marshal(p.Opportunities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal opportunities: %w", err)
	}

	hash := map[string]interface{}{
		"id":            p.ID,
		"workspace_id":  p.WorkspaceID,
		"timeframe":     string(p.Timeframe),
		"objectives":    string(objectivesJSON),
		"actions":       string(actionsJSON),
		"milestones":    string(milestonesJSON),
		"risks":         string(risksJSON),
		"opportunities": string(opportunitiesJSON),
		"confidence":    strconv.FormatFloat(p.Confidence, 'f', -1, 64),
		"generated_at":  timeToMs(p.GeneratedAt),
		"valid_until":   timeToMs(p.ValidUntil),
		"status":        string(p.Status),
	}

	return hash, nil
}

// HashToPlan converts a Redis hash back to a Plan.
func HashToPlan(hash map[string]string) (*Plan, error) {
	var objectives []Objective
	if s := hash["objectives"]; s != "" {
		if err := json.Unmarshal([]byte(s), &objectives); err != nil {
			return nil, fmt.Errorf("failed to unmarshal objectives: %w", err)
		}
	}
	var actions []PlanAction
	if s := hash["actions"]; s != "" {
		if err := json.Unmarshal([]byte(s), &actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}
	var milestones []Milestone
	if s := hash["milestones"]; s != "" {
		if err := json.Unmarshal([]byte(s), &milestones); err != nil {
			return nil, fmt.Errorf("failed to unmarshal milestones: %w", err)
		}
	}
	var risks []Risk
	if s := hash["risks"]; s != "" {
		if err := json.Unmarshal([]byte(s), &risks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal risks: %w", err)
		}
	}
	var opportunities []Opportunity
	if s := hash["opportunities"]; s != "" {
		if err := json.Unmarshal([]byte(s), &opportunities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal opportunities: %w", err)
		}
	}

	confidence, err := strconv.ParseFloat(hash["confidence"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid confidence field: %w", err)
	}

	generatedAt, _ := strconv.ParseInt(hash["generated_at"], 10, 64)
	validUntil, _ := strconv.ParseInt(hash["valid_until"], 10, 64)

	plan := &Plan{
		ID:            hash["id"],
		WorkspaceID:   hash["workspace_id"],
		Timeframe:     Timeframe(hash["timeframe"]),
		Objectives:    objectives,
		Actions:       actions,
		Milestones:    milestones,
		Risks:         risks,
		Opportunities: opportunities,
		Confidence:    confidence,
		GeneratedAt:   msToTime(generatedAt),
		ValidUntil:    msToTime(validUntil),
		Status:        PlanStatus(hash["status"]),
	}

	return plan, nil
}

// DriftReportToHash converts a DriftReport to Redis hash format.
func DriftReportToHash(d *DriftReport) (map[string]interface{}, error) {
	systemsJSON, err := json.Marshal(d.Systems)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal systems_involved: %w", err)
	}
	correctionsJSON, err := json.Marshal(d.Corrections)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recommended_corrections: %w", err)
	}

	hash := map[string]interface{}{
		"id":                      d.ID,
		"workspace_id":            d.WorkspaceID,
		"drift_type":              d.DriftType,
		"systems_involved":        string(systemsJSON),
		"drift_score":             strconv.FormatFloat(d.Score, 'f', -1, 64),
		"severity":                string(d.Severity),
		"analysis":                d.Analysis,
		"recommended_corrections": string(correctionsJSON),
		"status":                  string(d.Status),
		"detected_at":             timeToMs(d.DetectedAt),
	}

	return hash, nil
}

// HashToDriftReport converts a Redis hash back to a DriftReport.
func HashToDriftReport(hash map[string]string) (*DriftReport, error) {
	var systems []Participant
	if s := hash["systems_involved"]; s != "" {
		if err := json.Unmarshal([]byte(s), &systems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal systems_involved: %w", err)
		}
	}
	var corrections []Correction
	if s := hash["recommended_corrections"]; s != "" {
		if err := json.Unmarshal([]byte(s), &corrections); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recommended_corrections: %w", err)
		}
	}

	score, err := strconv.ParseFloat(hash["drift_score"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid drift_score field: %w", err)
	}
	detectedAt, _ := strconv.ParseInt(hash["detected_at"], 10, 64)

	report := &DriftReport{
		ID:          hash["id"],
		WorkspaceID: hash["workspace_id"],
		DriftType:   hash["drift_type"],
		Systems:     systems,
		Score:       score,
		Severity:    DriftSeverity(hash["severity"]),
		Analysis:    hash["analysis"],
		Corrections: corrections,
		Status:      DriftStatus(hash["status"]),
		DetectedAt:  msToTime(detectedAt),
	}

	return report, nil
}

// NegotiationToHash converts a Negotiation to Redis hash format.
func NegotiationToHash(n *Negotiation) (map[string]interface{}, error) {
	participantsJSON, err := json.Marshal(n.Participants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participants: %w", err)
	}
	contextJSON, err := json.Marshal(n.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	hash := map[string]interface{}{
		"id":           n.ID,
		"workspace_id": n.WorkspaceID,
		"participants": string(participantsJSON),
		"context":      string(contextJSON),
		"strategy":     string(n.Strategy),
		"confidence":   strconv.FormatFloat(n.Confidence, 'f', -1, 64),
		"status":       string(n.Status),
		"created_at":   timeToMs(n.CreatedAt),
		"completed_at": timeToMs(n.CompletedAt),
	}

	if n.Result != nil {
		resultJSON, err := json.Marshal(n.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		hash["result"] = string(resultJSON)
	} else {
		hash["result"] = ""
	}

	return hash, nil
}

// HashToNegotiation converts a Redis hash back to a Negotiation.
func HashToNegotiation(hash map[string]string) (*Negotiation, error) {
	var participants []Participant
	if s := hash["participants"]; s != "" {
		if err := json.Unmarshal([]byte(s), &participants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
		}
	}

	var negCtx NegotiationContext
	if s := hash["context"]; s != "" {
		if err := json.Unmarshal([]byte(s), &negCtx); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}

	var result *NegotiationResult
	if s := hash["result"]; s != "" {
		result = &NegotiationResult{}
		if err := json.Unmarshal([]byte(s), result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	confidence, err := strconv.ParseFloat(hash["confidence"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid confidence field: %w", err)
	}
	createdAt, _ := strconv.ParseInt(hash["created_at"], 10, 64)
	completedAt, _ := strconv.ParseInt(hash["completed_at"], 10, 64)

	neg := &Negotiation{
		ID:           hash["id"],
		WorkspaceID:  hash["workspace_id"],
		Participants: participants,
		Context:      negCtx,
		Strategy:     Strategy(hash["strategy"]),
		Result:       result,
		Confidence:   confidence,
		Status:       NegotiationStatus(hash["status"]),
		CreatedAt:    msToTime(createdAt),
		CompletedAt:  msToTime(completedAt),
	}

	return neg, nil
}

// InsightRouteToHash converts an InsightRoute to Redis hash format.
func InsightRouteToHash(r *InsightRoute) (map[string]interface{}, error) {
	ruleJSON, err := json.Marshal(r.Rule)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule: %w", err)
	}

	hash := map[string]interface{}{
		"id":           r.ID,
		"workspace_id": r.WorkspaceID,
		"insight_type": r.InsightType,
		"rule":         string(ruleJSON),
		"destination":  r.Destination,
		"priority":     r.Priority,
		"enabled":      strconv.FormatBool(r.Enabled),
	}

	return hash, nil
}

// HashToInsightRoute converts a Redis hash back to an InsightRoute.
func HashToInsightRoute(hash map[string]string) (*InsightRoute, error) {
	var rule RouteRule
	if s := hash["rule"]; s != "" {
		if err := json.Unmarshal([]byte(s), &rule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule: %w", err)
		}
	}

	priority, err := strconv.Atoi(hash["priority"])
	if err != nil {
		return nil, fmt.Errorf("invalid priority field: %w", err)
	}
	enabled, _ := strconv.ParseBool(hash["enabled"])

	route := &InsightRoute{
		ID:          hash["id"],
		WorkspaceID: hash["workspace_id"],
		InsightType: hash["insight_type"],
		Rule:        rule,
		Destination: hash["destination"],
		Priority:    priority,
		Enabled:     enabled,
	}

	return route, nil
}
