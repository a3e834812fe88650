package adapter

import (
	"context"
	"errors"

	"github.com/total-audio/meshos/pkg/mesh"
)

// StaticAdapter serves a fixed SystemState from memory. Used by tests and
// by on-demand tooling that already holds a snapshot.
type StaticAdapter struct {
	system mesh.Participant
	state  mesh.SystemState
	err    error
	panics bool
}

// NewStaticAdapter constructs a read-only in-memory adapter. The read-only
// invariant applies here too: construction fails unless cfg.ReadOnly.
func NewStaticAdapter(cfg Config, state mesh.SystemState) (*StaticAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &StaticAdapter{system: state.SystemName, state: state}, nil
}

// Fail makes every subsequent read return a failed result with the given
// message.
func (a *StaticAdapter) Fail(msg string) {
	a.err = errors.New(msg)
}

// Panics makes every subsequent read panic, exercising the guard.
func (a *StaticAdapter) Panics() {
	a.panics = true
}

// System returns the subsystem this adapter observes.
func (a *StaticAdapter) System() mesh.Participant {
	return a.system
}

// GetState returns the fixed state.
func (a *StaticAdapter) GetState(ctx context.Context) ReadResult[mesh.SystemState] {
	return guard(func() (mesh.SystemState, error) {
		if a.panics {
			panic("static adapter configured to panic")
		}
		if a.err != nil {
			return mesh.SystemState{}, a.err
		}
		return a.state, nil
	})
}

// Metric returns one metric from the fixed state.
func (a *StaticAdapter) Metric(ctx context.Context, name string) ReadResult[float64] {
	return guard(func() (float64, error) {
		if a.panics {
			panic("static adapter configured to panic")
		}
		if a.err != nil {
			return 0, a.err
		}
		v, ok := a.state.Metrics[name]
		if !ok {
			return 0, errors.New("metric not published")
		}
		return v, nil
	})
}

// Position returns the fixed state's preference for an issue.
func (a *StaticAdapter) Position(ctx context.Context, issue string) ReadResult[float64] {
	return guard(func() (float64, error) {
		if a.panics {
			panic("static adapter configured to panic")
		}
		if a.err != nil {
			return 0, a.err
		}
		return positionFromState(a.state, issue), nil
	})
}
