// Package mesh provides type-safe Go definitions, Redis schema patterns and
// persistence for the MeshOS coordination layer.
//
// # Overview
//
// The mesh is the coordination layer that sits above the platform's
// independent subsystems (campaign autopilot, coaching engine, talent radar,
// scene mapping, creative direction, identity kernel and others). It builds
// a unified snapshot of their state, detects when they disagree, reconciles
// conflicts through structured negotiation, produces 7/30/90-day plans and
// gates every autonomous action behind a shared workspace policy. The mesh
// never mutates a subsystem; it observes them through read-only adapters.
//
// # Core Records
//
// Messages are typed, persisted communications between participants. A
// message is created pending and makes exactly one terminal transition to
// completed or failed; terminal messages are never re-opened.
//
// Plans are time-boxed sets of objectives, actions, milestones, risks and
// opportunities for one planning horizon. Exactly one plan per (workspace,
// timeframe) is active at a time; activating a successor archives it.
//
// DriftReports record measured disagreement between two subsystems' views
// of the same fact. Negotiations convert multiple subsystem positions into
// one decision with a confidence score. InsightRoutes are standing
// subscriptions dispatching derived insights to destinations. The Policy is
// the workspace-wide set of safety constraints gating autonomous action.
//
// # Multi-Workspace Support
//
// All Redis keys and Pub/Sub channels are namespaced by workspace ID so
// multiple workspaces safely coexist on a single Redis server with complete
// isolation of data and events.
//
// # Redis Schema
//
// All Redis keys follow the pattern: mesh:{workspace_id}:{entity}:{id}
//
//	Messages:      mesh:{workspace_id}:message:{message_id}
//	Plans:         mesh:{workspace_id}:plan:{plan_id}
//	Drift reports: mesh:{workspace_id}:drift:{report_id}
//	Negotiations:  mesh:{workspace_id}:negotiation:{negotiation_id}
//	Routes:        mesh:{workspace_id}:route:{route_id}
//	Policy:        mesh:{workspace_id}:policy
//	System state:  mesh:{workspace_id}:system:{name}:state
//
// Pub/Sub channels: mesh:{workspace_id}:{event_type}_events
//
// # Design Principles
//
//   - Type safety: every record has strong typing with validation methods
//   - Immutability: snapshots and completed records are replaced, not patched
//   - Single terminal transitions: messages and negotiations finalize once
//   - Isolation: workspace namespacing prevents cross-tenant interference
package mesh
