// Package insight fans derived insights out to interested destinations.
//
// Routes are standing subscriptions persisted in the store. An incoming
// insight is matched against every enabled route of its type, each route's
// conditions are evaluated with AND semantics, and the destinations of the
// matching routes are returned highest priority first. An insight no route
// claims falls back to the dashboard so nothing derived is silently lost.
package insight

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/total-audio/meshos/internal/logging"
	"github.com/total-audio/meshos/pkg/mesh"
)

// DefaultDestination receives insights no route matched.
const DefaultDestination = "dashboard"

// Router resolves destinations for insights from the persisted route set.
type Router struct {
	store *mesh.Store
	log   zerolog.Logger
}

// NewRouter creates an insight router over the workspace's routes.
func NewRouter(workspaceID string, store *mesh.Store) *Router {
	return &Router{
		store: store,
		log:   logging.New("insight", workspaceID),
	}
}

// Route returns the deduplicated destinations for an insight, ordered by
// descending route priority. Falls back to the default destination when no
// enabled route matches.
func (r *Router) Route(ctx context.Context, ins mesh.Insight) ([]string, error) {
	if ins.Type == "" {
		return nil, fmt.Errorf("insight type cannot be empty")
	}

	routes, err := r.store.InsightRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load insight routes: %w", err)
	}

	matching := make([]*mesh.InsightRoute, 0, len(routes))
	for _, route := range routes {
		if !route.Enabled || route.InsightType != ins.Type {
			continue
		}
		if Matches(route.Rule, ins) {
			matching = append(matching, route)
		}
	}

	if len(matching) == 0 {
		return []string{DefaultDestination}, nil
	}

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Priority > matching[j].Priority
	})

	seen := make(map[string]bool, len(matching))
	destinations := make([]string, 0, len(matching))
	for _, route := range matching {
		if seen[route.Destination] {
			continue
		}
		seen[route.Destination] = true
		destinations = append(destinations, route.Destination)
	}

	r.log.Debug().
		Str("insight_type", ins.Type).
		Strs("destinations", destinations).
		Msg("insight routed")

	return destinations, nil
}

// Matches reports whether an insight satisfies every condition of a rule.
// Range conditions compare against the insight's numeric fields, equals
// conditions against its labels. A condition naming a field the insight
// does not carry fails the rule.
func Matches(rule mesh.RouteRule, ins mesh.Insight) bool {
	for field, cond := range rule.Conditions {
		if cond.Equals != "" {
			if ins.Labels[field] != cond.Equals {
				return false
			}
			continue
		}

		value, ok := ins.Fields[field]
		if !ok {
			return false
		}
		if cond.Min != nil && value < *cond.Min {
			return false
		}
		if cond.Max != nil && value > *cond.Max {
			return false
		}
	}
	return true
}
