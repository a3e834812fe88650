package mesh

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by workspace ID so
// multiple workspaces can safely coexist on a single Redis server.
//
// Key pattern: mesh:{workspace_id}:{entity}:{id}
// Channel pattern: mesh:{workspace_id}:{event_type}_events

// MessageKey returns the Redis key for a message.
// Pattern: mesh:{workspace_id}:message:{message_id}
func MessageKey(workspaceID, messageID string) string {
	return fmt.Sprintf("mesh:%s:message:%s", workspaceID, messageID)
}

// PendingMessagesKey returns the Redis key for the pending-message ZSET,
// scored by creation time for FIFO processing.
// Pattern: mesh:{workspace_id}:messages:pending
func PendingMessagesKey(workspaceID string) string {
	return fmt.Sprintf("mesh:%s:messages:pending", workspaceID)
}

// SystemInboxKey returns the Redis key for a subsystem's message inbox LIST.
// Subsystems that cannot receive pushes poll this queue.
// Pattern: mesh:{workspace_id}:inbox:{system}
func SystemInboxKey(workspaceID string, system Participant) string {
	return fmt.Sprintf("mesh:%s:inbox:%s", workspaceID, system)
}

// PlanKey returns the Redis key for a plan.
// Pattern: mesh:{workspace_id}:plan:{plan_id}
func PlanKey(workspaceID, planID string) string {
	return fmt.Sprintf("mesh:%s:plan:%s", workspaceID, planID)
}

// ActivePlanKey returns the Redis key holding the active plan ID for a
// timeframe. At most one active plan exists per (workspace, timeframe).
// Pattern: mesh:{workspace_id}:plan_active:{timeframe}
func ActivePlanKey(workspaceID string, timeframe Timeframe) string {
	return fmt.Sprintf("mesh:%s:plan_active:%s", workspaceID, timeframe)
}

// DriftReportKey returns the Redis key for a drift report.
// Pattern: mesh:{workspace_id}:drift:{report_id}
func DriftReportKey(workspaceID, reportID string) string {
	return fmt.Sprintf("mesh:%s:drift:%s", workspaceID, reportID)
}

// DriftIndexKey returns the Redis key for the workspace's drift report ZSET,
// scored by detection time.
// Pattern: mesh:{workspace_id}:drift_index
func DriftIndexKey(workspaceID string) string {
	return fmt.Sprintf("mesh:%s:drift_index", workspaceID)
}

// NegotiationKey returns the Redis key for a negotiation.
// Pattern: mesh:{workspace_id}:negotiation:{negotiation_id}
func NegotiationKey(workspaceID, negotiationID string) string {
	return fmt.Sprintf("mesh:%s:negotiation:%s", workspaceID, negotiationID)
}

// NegotiationIndexKey returns the Redis key for the workspace's negotiation
// ZSET, scored by creation time.
// Pattern: mesh:{workspace_id}:negotiation_index
func NegotiationIndexKey(workspaceID string) string {
	return fmt.Sprintf("mesh:%s:negotiation_index", workspaceID)
}

// InsightRouteKey returns the Redis key for an insight route.
// Pattern: mesh:{workspace_id}:route:{route_id}
func InsightRouteKey(workspaceID, routeID string) string {
	return fmt.Sprintf("mesh:%s:route:%s", workspaceID, routeID)
}

// InsightRouteIndexKey returns the Redis key for the SET of route IDs.
// Pattern: mesh:{workspace_id}:route_index
func InsightRouteIndexKey(workspaceID string) string {
	return fmt.Sprintf("mesh:%s:route_index", workspaceID)
}

// PolicyKey returns the Redis key for the workspace policy.
// Pattern: mesh:{workspace_id}:policy
func PolicyKey(workspaceID string) string {
	return fmt.Sprintf("mesh:%s:policy", workspaceID)
}

// StateKey returns the Redis key for an arbitrary key/value state entry.
// Pattern: mesh:{workspace_id}:state:{name}
func StateKey(workspaceID, name string) string {
	return fmt.Sprintf("mesh:%s:state:%s", workspaceID, name)
}

// SystemStateKey returns the Redis key for a subsystem's published state
// hash. Subsystems write these outside the mesh; adapters only read them.
// Pattern: mesh:{workspace_id}:system:{name}:state
func SystemStateKey(workspaceID string, system Participant) string {
	return fmt.Sprintf("mesh:%s:system:%s:state", workspaceID, system)
}

// MessageEventsChannel returns the Pub/Sub channel name for message events.
// Pattern: mesh:{workspace_id}:message_events
func MessageEventsChannel(workspaceID string) string {
	return fmt.Sprintf("mesh:%s:message_events", workspaceID)
}

// DriftEventsChannel returns the Pub/Sub channel name for drift report
// events.
// Pattern: mesh:{workspace_id}:drift_events
func DriftEventsChannel(workspaceID string) string {
	return fmt.Sprintf("mesh:%s:drift_events", workspaceID)
}
