// Package policy is the single synchronous gate every proposed autonomous
// action passes through before execution.
//
// Checks run in a fixed precedence order and stop at the first failure:
// quiet hours, risk ceiling, contact fatigue, rate limiting, token budget,
// then the explicit human-approval list. The approval list is absolute: an
// action of a listed type is blocked even when everything above passed.
//
// The live policy is swapped copy-on-write. A check in flight always
// observes one complete policy snapshot, never a half-applied update.
package policy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/total-audio/meshos/internal/logging"
	"github.com/total-audio/meshos/pkg/mesh"
)

// Action is a proposed autonomous action submitted to the gate.
type Action struct {
	Type      string    `json:"type"`
	RiskScore float64   `json:"risk_score"` // [0,1]
	Timestamp time.Time `json:"timestamp"`  // When the action would execute
	Contact   string    `json:"contact,omitempty"` // Contact reached, if any
	Tokens    int       `json:"tokens,omitempty"`  // Estimated token spend
}

// Decision is the gate's verdict on one action.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule,omitempty"` // Which check blocked, empty when allowed
	Reason  string `json:"reason,omitempty"`
}

// Budget statuses returned by CheckTokenBudget.
const (
	BudgetOK       = "ok"
	BudgetWarning  = "warning"
	BudgetCritical = "critical"
)

// BudgetStatus reports remaining token headroom.
type BudgetStatus struct {
	Status           string `json:"status"` // ok, warning or critical
	DailyRemaining   int    `json:"daily_remaining"`
	MonthlyRemaining int    `json:"monthly_remaining"`
	AlertTriggered   bool   `json:"alert_triggered"`
}

// UsageSource supplies the consumption counters the fatigue, rate-limit and
// budget checks compare against their caps.
type UsageSource interface {
	ContactsToday(ctx context.Context, contact string) (int, error)
	ContactsThisWeek(ctx context.Context, contact string) (int, error)
	ActionsThisHour(ctx context.Context) (int, error)
	TokensToday(ctx context.Context) (int, error)
	TokensThisMonth(ctx context.Context) (int, error)
}

// Engine evaluates actions against the current policy snapshot.
type Engine struct {
	workspaceID string
	current     atomic.Pointer[mesh.Policy]
	usage       UsageSource
	log         zerolog.Logger

	now func() time.Time
}

// NewEngine creates a policy engine seeded with a policy. A nil policy
// falls back to the conservative default for the workspace.
func NewEngine(workspaceID string, p *mesh.Policy, usage UsageSource) (*Engine, error) {
	if p == nil {
		p = mesh.DefaultPolicy(workspaceID)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if usage == nil {
		return nil, fmt.Errorf("usage source cannot be nil")
	}

	e := &Engine{
		workspaceID: workspaceID,
		usage:       usage,
		log:         logging.New("policy", workspaceID),
		now:         time.Now,
	}
	e.current.Store(p.Clone())
	return e, nil
}

// Current returns the live policy snapshot. Callers must not mutate it.
func (e *Engine) Current() *mesh.Policy {
	return e.current.Load()
}

// Apply validates and swaps in a complete replacement policy.
func (e *Engine) Apply(p *mesh.Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	next := p.Clone()
	next.UpdatedAt = e.now().UTC()
	e.current.Store(next)

	e.log.Info().Msg("policy replaced")
	return nil
}

// Update applies a partial mutation copy-on-write: the mutation runs on a
// clone of the current snapshot and the result is swapped in atomically.
// Retries on concurrent updates.
func (e *Engine) Update(mutate func(*mesh.Policy)) (*mesh.Policy, error) {
	for {
		old := e.current.Load()
		next := old.Clone()
		mutate(next)
		if err := next.Validate(); err != nil {
			return nil, fmt.Errorf("invalid policy update: %w", err)
		}
		next.UpdatedAt = e.now().UTC()

		if e.current.CompareAndSwap(old, next) {
			e.log.Info().Msg("policy updated")
			return next, nil
		}
	}
}

// IsActionAllowed runs the gate. The checks run in fixed precedence order
// and the first failing check decides. A usage counter that cannot be read
// blocks the action: the gate fails closed rather than letting an action
// through on unknown consumption.
func (e *Engine) IsActionAllowed(ctx context.Context, action Action) Decision {
	p := e.current.Load()

	if d := e.checkQuietHours(p, action); !d.Allowed {
		return d
	}
	if action.RiskScore > p.RiskCeilings.MaxRiskScore {
		return blocked("risk_ceiling", fmt.Sprintf("risk score %.2f exceeds ceiling %.2f",
			action.RiskScore, p.RiskCeilings.MaxRiskScore))
	}
	if d := e.checkContactFatigue(ctx, p, action); !d.Allowed {
		return d
	}
	if d := e.checkRateLimit(ctx, p); !d.Allowed {
		return d
	}
	if d := e.checkTokenCap(ctx, p); !d.Allowed {
		return d
	}
	for _, t := range p.AutonomyCaps.RequireHumanApproval {
		if t == action.Type {
			return blocked("human_approval", fmt.Sprintf("action type %q always requires human approval", action.Type))
		}
	}

	return Decision{Allowed: true}
}

// RequiresApproval reports whether an otherwise-allowed action should be
// routed to a human queue. Separate from IsActionAllowed and never blocks.
func (e *Engine) RequiresApproval(action Action) bool {
	p := e.current.Load()
	for _, t := range p.AutonomyCaps.RequireHumanApproval {
		if t == action.Type {
			return true
		}
	}
	return action.RiskScore >= p.RiskCeilings.RequireApprovalAbove
}

// CheckTokenBudget reports headroom against the daily and monthly limits.
// Critical when either budget crosses 90 percent, warning when either
// crosses the configured alert percentage.
func (e *Engine) CheckTokenBudget(usedToday, usedMonth int) BudgetStatus {
	p := e.current.Load()
	budgets := p.TokenBudgets

	status := BudgetStatus{
		Status:           BudgetOK,
		DailyRemaining:   remaining(budgets.DailyLimit, usedToday),
		MonthlyRemaining: remaining(budgets.MonthlyLimit, usedMonth),
	}

	dailyPct := percentUsed(budgets.DailyLimit, usedToday)
	monthlyPct := percentUsed(budgets.MonthlyLimit, usedMonth)
	worst := dailyPct
	if monthlyPct > worst {
		worst = monthlyPct
	}

	switch {
	case worst >= 90:
		status.Status = BudgetCritical
	case budgets.AlertAtPercentage > 0 && worst >= float64(budgets.AlertAtPercentage):
		status.Status = BudgetWarning
	}
	status.AlertTriggered = status.Status != BudgetOK
	return status
}

// SimulateImpact runs the gate over a batch of proposed actions without
// side effects, for dry-run planning.
func (e *Engine) SimulateImpact(ctx context.Context, actions []Action) []Decision {
	decisions := make([]Decision, len(actions))
	for i, a := range actions {
		decisions[i] = e.IsActionAllowed(ctx, a)
	}
	return decisions
}

func (e *Engine) checkQuietHours(p *mesh.Policy, action Action) Decision {
	qh := p.QuietHours
	if qh == nil {
		return Decision{Allowed: true}
	}

	start, err := mesh.ParseClock(qh.Start)
	if err != nil {
		return blocked("quiet_hours", err.Error())
	}
	end, err := mesh.ParseClock(qh.End)
	if err != nil {
		return blocked("quiet_hours", err.Error())
	}
	if start == end {
		return Decision{Allowed: true}
	}

	ts := action.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	if qh.Timezone != "" {
		loc, err := time.LoadLocation(qh.Timezone)
		if err != nil {
			return blocked("quiet_hours", fmt.Sprintf("unknown timezone %q", qh.Timezone))
		}
		ts = ts.In(loc)
	}
	minute := ts.Hour()*60 + ts.Minute()

	inWindow := false
	if start < end {
		inWindow = minute >= start && minute < end
	} else {
		// Window crosses midnight, e.g. 22:00-07:00.
		inWindow = minute >= start || minute < end
	}
	if inWindow {
		return blocked("quiet_hours", fmt.Sprintf("inside quiet window %s-%s", qh.Start, qh.End))
	}
	return Decision{Allowed: true}
}

func (e *Engine) checkContactFatigue(ctx context.Context, p *mesh.Policy, action Action) Decision {
	if action.Contact == "" {
		return Decision{Allowed: true}
	}
	fatigue := p.ContactFatigue

	if fatigue.MaxContactsPerDay > 0 {
		n, err := e.usage.ContactsToday(ctx, action.Contact)
		if err != nil {
			return blocked("contact_fatigue", fmt.Sprintf("daily contact count unreadable: %v", err))
		}
		if n >= fatigue.MaxContactsPerDay {
			return blocked("contact_fatigue", fmt.Sprintf("contact reached %d times today, cap is %d", n, fatigue.MaxContactsPerDay))
		}
	}
	if fatigue.MaxContactsPerWeek > 0 {
		n, err := e.usage.ContactsThisWeek(ctx, action.Contact)
		if err != nil {
			return blocked("contact_fatigue", fmt.Sprintf("weekly contact count unreadable: %v", err))
		}
		if n >= fatigue.MaxContactsPerWeek {
			return blocked("contact_fatigue", fmt.Sprintf("contact reached %d times this week, cap is %d", n, fatigue.MaxContactsPerWeek))
		}
	}
	return Decision{Allowed: true}
}

func (e *Engine) checkRateLimit(ctx context.Context, p *mesh.Policy) Decision {
	limit := p.RateLimiting.MaxActionsPerHour
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	n, err := e.usage.ActionsThisHour(ctx)
	if err != nil {
		return blocked("rate_limit", fmt.Sprintf("hourly action count unreadable: %v", err))
	}
	if n >= limit {
		return blocked("rate_limit", fmt.Sprintf("%d actions this hour, cap is %d", n, limit))
	}
	return Decision{Allowed: true}
}

func (e *Engine) checkTokenCap(ctx context.Context, p *mesh.Policy) Decision {
	limit := p.TokenBudgets.DailyLimit
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	used, err := e.usage.TokensToday(ctx)
	if err != nil {
		return blocked("token_budget", fmt.Sprintf("daily token usage unreadable: %v", err))
	}
	if used >= limit {
		return blocked("token_budget", fmt.Sprintf("%d tokens used today, limit is %d", used, limit))
	}
	return Decision{Allowed: true}
}

func blocked(rule, reason string) Decision {
	return Decision{Allowed: false, Rule: rule, Reason: reason}
}

func remaining(limit, used int) int {
	if limit <= 0 {
		return 0
	}
	r := limit - used
	if r < 0 {
		return 0
	}
	return r
}

func percentUsed(limit, used int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}
