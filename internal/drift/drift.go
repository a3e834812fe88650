// Package drift detects when two subsystems' views of the same fact
// diverge beyond tolerance, for example creative direction versus campaign
// targeting. Each configured check compares one metric from each of two
// subsystems and scores the normalised difference; reports above tolerance
// are persisted for external actors to acknowledge or resolve.
package drift

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

// Engine evaluates the configured drift checks against adapter reads.
type Engine struct {
	workspaceID string
	registry    *adapter.Registry
	store       *mesh.Store
	checks      []config.DriftCheck
	log         zerolog.Logger
}

// NewEngine creates a drift engine for the given checks.
func NewEngine(workspaceID string, registry *adapter.Registry, store *mesh.Store, checks []config.DriftCheck) *Engine {
	return &Engine{
		workspaceID: workspaceID,
		registry:    registry,
		store:       store,
		checks:      checks,
		log:         logging.New("drift", workspaceID),
	}
}

// Score computes the drift score for an expected/actual metric pair:
// clamp(|expected-actual| / avg(expected,actual) * sensitivity, 0, 1).
// When the average is zero the score is 1 if the values differ, 0 otherwise.
func Score(expected, actual, sensitivity float64) float64 {
	if sensitivity <= 0 {
		sensitivity = 1
	}

	diff := math.Abs(expected - actual)
	avg := (expected + actual) / 2
	if avg == 0 {
		if diff > 0 {
			return 1
		}
		return 0
	}

	score := diff / avg * sensitivity
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Detect runs every configured check and persists a report for each
// detected divergence. A check whose source adapters are unavailable or
// whose reads fail yields no report: silence is preferred over a
// false-positive drift signal. Returns the reports created this pass.
func (e *Engine) Detect(ctx context.Context) ([]*mesh.DriftReport, error) {
	var reports []*mesh.DriftReport

	for _, check := range e.checks {
		report := e.evaluate(ctx, check)
		if report == nil {
			continue
		}

		if err := e.store.CreateDriftReport(ctx, report); err != nil {
			return reports, fmt.Errorf("failed to persist drift report for %q: %w", check.Name, err)
		}

		e.log.Info().
			Str("drift_type", report.DriftType).
			Float64("score", report.Score).
			Str("severity", string(report.Severity)).
			Msg("drift detected")

		reports = append(reports, report)
	}

	return reports, nil
}

// evaluate runs one check. Returns nil when either side is unreadable
// (fail-closed) or when the views agree exactly.
func (e *Engine) evaluate(ctx context.Context, check config.DriftCheck) *mesh.DriftReport {
	systemA := mesh.Participant(check.SystemA)
	systemB := mesh.Participant(check.SystemB)

	adapterA := e.registry.Get(systemA)
	adapterB := e.registry.Get(systemB)
	if adapterA == nil || adapterB == nil {
		e.log.Debug().Str("check", check.Name).Msg("adapter not registered, skipping check")
		return nil
	}

	expected := adapterA.Metric(ctx, check.MetricA)
	actual := adapterB.Metric(ctx, check.MetricB)
	if !expected.Success || !actual.Success {
		e.log.Debug().
			Str("check", check.Name).
			Str("expected_err", expected.Err).
			Str("actual_err", actual.Err).
			Msg("source read failed, skipping check")
		return nil
	}

	score := Score(expected.Data, actual.Data, check.Sensitivity)
	if score == 0 {
		return nil
	}

	severity := mesh.SeverityForScore(score)
	report := &mesh.DriftReport{
		ID:          uuid.New().String(),
		WorkspaceID: e.workspaceID,
		DriftType:   check.Name,
		Systems:     []mesh.Participant{systemA, systemB},
		Score:       score,
		Severity:    severity,
		Analysis: fmt.Sprintf("%s.%s=%.3f disagrees with %s.%s=%.3f (score %.3f)",
			systemA, check.MetricA, expected.Data,
			systemB, check.MetricB, actual.Data, score),
		Status:     mesh.DriftStatusDetected,
		DetectedAt: time.Now().UTC(),
	}

	if severity == mesh.DriftSeverityHigh {
		report.Corrections = corrections(check, systemA, systemB, score)
	}

	return report
}

// corrections recommends realignment for a high-severity divergence. The
// system holding the "actual" side is asked to converge toward the
// expected view.
func corrections(check config.DriftCheck, systemA, systemB mesh.Participant, score float64) []mesh.Correction {
	priority := 5 + int(math.Round(score*5))
	if priority > 10 {
		priority = 10
	}

	return []mesh.Correction{{
		System:   systemB,
		Action:   fmt.Sprintf("realign %s with %s published by %s", check.MetricB, check.MetricA, systemA),
		Priority: priority,
		Rationale: fmt.Sprintf("%s divergence %.0f%% exceeds the high-severity threshold",
			check.Name, score*100),
	}}
}
