// Package orchestrator drives the mesh's coordination cycles.
//
// One cycle builds a fresh global context, runs drift detection, regenerates
// expired plans and processes pending messages. Cycles never interleave and
// a failure in one stage is logged and counted, never propagated: a degraded
// cycle is preferable to a halted mesh. The previous cycle's context stays
// readable throughout.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/total-audio/meshos/internal/adapter"
	"github.com/total-audio/meshos/internal/config"
	"github.com/total-audio/meshos/internal/drift"
	"github.com/total-audio/meshos/internal/insight"
	"github.com/total-audio/meshos/internal/logging"
	"github.com/total-audio/meshos/internal/message"
	"github.com/total-audio/meshos/internal/negotiation"
	"github.com/total-audio/meshos/internal/planning"
	"github.com/total-audio/meshos/internal/policy"
	"github.com/total-audio/meshos/internal/snapshot"
	"github.com/total-audio/meshos/pkg/mesh"
)

// Engine owns the coordination cycle and the engines it drives.
type Engine struct {
	cfg      *config.MeshConfig
	store    *mesh.Store
	registry *adapter.Registry

	snapshots  *snapshot.Engine
	drift      *drift.Engine
	planner    *planning.Engine
	negotiator *negotiation.Engine
	policies   *policy.Engine
	insights   *insight.Router
	router     *message.Router

	// cycleMu serializes cycles; manual triggers run outside it.
	cycleMu sync.Mutex
	stopped atomic.Bool
	inCycle atomic.Bool

	cycleCount atomic.Int64
	errorCount atomic.Int64
	lastCycle  atomic.Pointer[time.Time]
	current    atomic.Pointer[mesh.GlobalContext]

	log zerolog.Logger
}

// Status is the orchestrator's externally monitored state.
type Status struct {
	Running       bool      `json:"running"`
	CycleCount    int64     `json:"cycle_count"`
	ErrorCount    int64     `json:"error_count"`
	LastCycleTime time.Time `json:"last_cycle_time,omitempty"`
}

// Summary is the day-level rollup the dashboard reads.
type Summary struct {
	Opportunities  int       `json:"opportunities"`
	Conflicts      int       `json:"conflicts"` // Open drift reports
	ActivePlans    int       `json:"active_plans"`
	CriticalIssues int       `json:"critical_issues"` // Down systems plus high-severity drift
	GeneratedAt    time.Time `json:"generated_at"`
}

// NewEngine wires the mesh's engines over a shared store and adapter
// registry and binds the engine message handlers. The policy engine gates
// with store-backed usage counters.
func NewEngine(cfg *config.MeshConfig, store *mesh.Store, registry *adapter.Registry) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	ws := cfg.Workspace
	policies, err := policy.NewEngine(ws, cfg.Policy, policy.NewStoreUsage(store))
	if err != nil {
		return nil, fmt.Errorf("failed to build policy engine: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		snapshots:  snapshot.NewEngine(ws, registry, store, cfg.Orchestrator.Timeout()),
		drift:      drift.NewEngine(ws, registry, store, cfg.DriftChecks),
		planner:    planning.NewEngine(ws, registry, store),
		negotiator: negotiation.NewEngine(ws, registry, store, cfg.Subsystems),
		policies:   policies,
		insights:   insight.NewRouter(ws, store),
		router:     message.NewRouter(ws, store),
		log:        logging.New("orchestrator", ws),
	}
	if err := e.registerHandlers(); err != nil {
		return nil, err
	}
	return e, nil
}

// Router exposes the message router for external senders.
func (e *Engine) Router() *message.Router { return e.router }

// Policies exposes the policy gate.
func (e *Engine) Policies() *policy.Engine { return e.policies }

// Insights exposes the insight router.
func (e *Engine) Insights() *insight.Router { return e.insights }

// CurrentContext returns the most recent complete global context, or nil
// before the first cycle.
func (e *Engine) CurrentContext() *mesh.GlobalContext {
	return e.current.Load()
}

// Status reports the orchestrator's monitoring counters.
func (e *Engine) Status() Status {
	s := Status{
		Running:    !e.stopped.Load(),
		CycleCount: e.cycleCount.Load(),
		ErrorCount: e.errorCount.Load(),
	}
	if ts := e.lastCycle.Load(); ts != nil {
		s.LastCycleTime = *ts
	}
	return s
}

// Stop prevents further cycles from starting. Cooperative: an in-flight
// cycle runs to completion.
func (e *Engine) Stop() {
	e.stopped.Store(true)
	e.log.Info().Msg("orchestrator stopping, in-flight cycle will finish")
}

// Run executes one cycle immediately, then one per interval until the
// context is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cycle interval must be positive")
	}

	e.log.Info().Dur("interval", interval).Msg("orchestrator starting")
	e.RunCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("orchestrator shutting down")
			return nil
		case <-ticker.C:
			if e.stopped.Load() {
				e.log.Info().Msg("orchestrator stopped")
				return nil
			}
			e.RunCycle(ctx)
		}
	}
}

// RunCycle drives one coordination cycle. Every stage failure is absorbed
// into the error counter; the remaining stages still run.
func (e *Engine) RunCycle(ctx context.Context) {
	if e.stopped.Load() {
		return
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	e.inCycle.Store(true)
	defer e.inCycle.Store(false)

	started := time.Now().UTC()

	// The context is swapped in wholesale only once fully built. Readers
	// see the previous cycle's snapshot until then.
	gc := e.snapshots.Build(ctx)
	e.current.Store(gc)

	if e.cfg.Orchestrator.DriftOn() {
		if reports, err := e.drift.Detect(ctx); err != nil {
			e.recordError("drift detection failed", err)
		} else if len(reports) > 0 {
			e.routeDriftInsights(ctx, reports)
		}
	}

	if e.cfg.Orchestrator.PlanningOn() {
		e.refreshPlans(ctx)
	}

	if _, err := e.router.ProcessPending(ctx, e.cfg.Orchestrator.Batch()); err != nil {
		e.recordError("pending message pass failed", err)
	}

	now := time.Now().UTC()
	e.lastCycle.Store(&now)
	count := e.cycleCount.Add(1)

	e.log.Info().
		Int64("cycle", count).
		Int("systems", len(gc.Systems)).
		Dur("took", now.Sub(started)).
		Msg("cycle complete")
}

// refreshPlans regenerates any timeframe whose active plan is missing or
// expired. Valid active plans are left alone.
func (e *Engine) refreshPlans(ctx context.Context) {
	now := time.Now().UTC()
	for _, timeframe := range mesh.Timeframes() {
		plan, err := e.store.ActivePlan(ctx, timeframe)
		if err != nil && err != redis.Nil {
			e.recordError(fmt.Sprintf("failed to read active %s plan", timeframe), err)
			continue
		}
		if plan != nil && plan.ValidUntil.After(now) {
			continue
		}

		if _, err := e.planner.GeneratePlan(ctx, timeframe); err != nil {
			e.recordError(fmt.Sprintf("failed to regenerate %s plan", timeframe), err)
		}
	}
}

// routeDriftInsights forwards freshly detected drift to its destinations.
func (e *Engine) routeDriftInsights(ctx context.Context, reports []*mesh.DriftReport) {
	for _, report := range reports {
		ins := mesh.Insight{
			Type:     "drift_detected",
			Title:    fmt.Sprintf("%s drift between %v", report.DriftType, report.Systems),
			Severity: string(report.Severity),
			Fields:   map[string]float64{"score": report.Score},
			Labels:   map[string]string{"severity": string(report.Severity)},
		}
		if _, err := e.insights.Route(ctx, ins); err != nil {
			e.recordError("failed to route drift insight", err)
		}
	}
}

// TriggerPlanning regenerates the plan for one timeframe on demand,
// bypassing the cycle schedule.
func (e *Engine) TriggerPlanning(ctx context.Context, timeframe mesh.Timeframe) (*mesh.Plan, error) {
	return e.planner.GeneratePlan(ctx, timeframe)
}

// TriggerNegotiation starts a negotiation on demand, bypassing the cycle
// schedule.
func (e *Engine) TriggerNegotiation(ctx context.Context, req negotiation.Request) (*mesh.Negotiation, error) {
	return e.negotiator.Negotiate(ctx, req)
}

// Summary builds the day-level rollup from the current context and the
// store's open records.
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	s := &Summary{GeneratedAt: time.Now().UTC()}

	if gc := e.current.Load(); gc != nil {
		s.Opportunities = len(gc.Opportunities)
		for _, sys := range gc.Systems {
			if sys.Health == mesh.HealthDown {
				s.CriticalIssues++
			}
		}
	}

	open, err := e.store.OpenDriftReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read open drift reports: %w", err)
	}
	s.Conflicts = len(open)
	for _, report := range open {
		if report.Severity == mesh.DriftSeverityHigh {
			s.CriticalIssues++
		}
	}

	for _, timeframe := range mesh.Timeframes() {
		plan, err := e.store.ActivePlan(ctx, timeframe)
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to read active %s plan: %w", timeframe, err)
		}
		if plan != nil {
			s.ActivePlans++
		}
	}

	return s, nil
}

func (e *Engine) recordError(msg string, err error) {
	e.errorCount.Add(1)
	e.log.Error().Err(err).Msg(msg)
}
