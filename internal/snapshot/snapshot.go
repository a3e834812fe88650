// Package snapshot implements the global context engine: it fans out across
// every registered adapter, collects one SystemState per subsystem and
// assembles the immutable GlobalContext the rest of the mesh coordinates
// against. A snapshot is built once per cycle and replaced wholesale, never
// patched, so concurrent readers always observe a complete view from a
// single read generation.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/total-audio/meshos/internal/adapter"
	"github.com/total-audio/meshos/internal/logging"
	"github.com/total-audio/meshos/pkg/mesh"
)

// Engine builds GlobalContext snapshots.
type Engine struct {
	workspaceID string
	registry    *adapter.Registry
	store       *mesh.Store
	timeout     time.Duration
	log         zerolog.Logger
}

// NewEngine creates a global context engine. timeout bounds each adapter
// read; a read that exceeds it degrades that one entry instead of blocking
// the snapshot.
func NewEngine(workspaceID string, registry *adapter.Registry, store *mesh.Store, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Engine{
		workspaceID: workspaceID,
		registry:    registry,
		store:       store,
		timeout:     timeout,
		log:         logging.New("context", workspaceID),
	}
}

// Build produces one GlobalContext. Adapter reads run concurrently; a
// failed or timed-out read contributes a down SystemState entry rather than
// being dropped silently. Build has no side effects.
func (e *Engine) Build(ctx context.Context) *mesh.GlobalContext {
	systems := e.readSystems(ctx)

	gc := &mesh.GlobalContext{
		WorkspaceID:    e.workspaceID,
		Timestamp:      time.Now().UTC(),
		Systems:        systems,
		Negotiations:   []string{},
		ActivePlans:    map[mesh.Timeframe]string{},
		Opportunities:  []string{},
		Threats:        []string{},
		Contradictions: []string{},
	}

	e.fillCoordinationState(ctx, gc)
	e.deriveSignals(gc)

	e.log.Info().
		Int("systems", len(gc.Systems)).
		Int("open_drift", gc.Drift.OpenReports).
		Int("opportunities", len(gc.Opportunities)).
		Int("threats", len(gc.Threats)).
		Msg("context built")

	return gc
}

// readSystems fans out one GetState per registered adapter and fans in the
// results in registry order.
func (e *Engine) readSystems(ctx context.Context) []mesh.SystemState {
	order := e.registry.Systems()
	results := make([]mesh.SystemState, len(order))

	g, gctx := errgroup.WithContext(ctx)
	for i, system := range order {
		i, system := i, system
		a := e.registry.Get(system)
		g.Go(func() error {
			readCtx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			result := a.GetState(readCtx)
			if !result.Success {
				e.log.Warn().
					Str("system", string(system)).
					Str("error", result.Err).
					Msg("adapter read failed, marking down")
				results[i] = downState(system, result.Timestamp)
				return nil
			}
			results[i] = result.Data
			return nil
		})
	}
	// Adapter goroutines never return errors; failures degrade entries.
	_ = g.Wait()

	return results
}

// downState is the degraded entry a failed read contributes.
func downState(system mesh.Participant, at time.Time) mesh.SystemState {
	return mesh.SystemState{
		SystemName: system,
		Health:     mesh.HealthDown,
		Load:       0,
		Metrics:    map[string]float64{},
		Alerts:     []string{},
		ObservedAt: at,
	}
}

// fillCoordinationState reads active plans, pending negotiations and open
// drift reports from the store. A store failure degrades the snapshot's
// coordination lists but never aborts the build.
func (e *Engine) fillCoordinationState(ctx context.Context, gc *mesh.GlobalContext) {
	if e.store == nil {
		return
	}

	if pending, err := e.store.PendingNegotiations(ctx); err != nil {
		e.log.Warn().Err(err).Msg("failed to read pending negotiations")
	} else {
		for _, n := range pending {
			gc.Negotiations = append(gc.Negotiations, n.ID)
		}
	}

	for _, tf := range mesh.Timeframes() {
		plan, err := e.store.ActivePlan(ctx, tf)
		if err != nil {
			if !mesh.IsNotFound(err) {
				e.log.Warn().Err(err).Str("timeframe", string(tf)).Msg("failed to read active plan")
			}
			continue
		}
		gc.ActivePlans[tf] = plan.ID
	}

	reports, err := e.store.OpenDriftReports(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to read open drift reports")
		return
	}
	for _, r := range reports {
		gc.Drift.OpenReports++
		if r.Severity == mesh.DriftSeverityHigh {
			gc.Drift.HighSeverity++
		}
		if r.Score > gc.Drift.MaxScore {
			gc.Drift.MaxScore = r.Score
		}
		gc.Contradictions = append(gc.Contradictions,
			fmt.Sprintf("%s: %s", r.DriftType, r.Analysis))
	}
}

// deriveSignals fills opportunities and threats from the aggregate system
// view: healthy lightly-loaded systems have spare capacity, down systems
// and high-severity drift threaten coordination.
func (e *Engine) deriveSignals(gc *mesh.GlobalContext) {
	for _, s := range gc.Systems {
		switch {
		case s.Health == mesh.HealthDown:
			gc.Threats = append(gc.Threats,
				fmt.Sprintf("%s is down", s.SystemName))
		case s.Health == mesh.HealthDegraded:
			gc.Threats = append(gc.Threats,
				fmt.Sprintf("%s is degraded (%d alerts)", s.SystemName, len(s.Alerts)))
		case s.Load < 0.5:
			gc.Opportunities = append(gc.Opportunities,
				fmt.Sprintf("%s has spare capacity (load %.2f)", s.SystemName, s.Load))
		}
	}

	if gc.Drift.HighSeverity > 0 {
		gc.Threats = append(gc.Threats,
			fmt.Sprintf("%d high-severity drift report(s) open", gc.Drift.HighSeverity))
	}
}
