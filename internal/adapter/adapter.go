// Package adapter provides uniform read-only views onto the platform's
// subsystems. Adapters are the only path by which the mesh observes a
// subsystem, and they are constructed with a hard safety invariant: an
// adapter can never be configured to write. Every read is wrapped in a
// guard that converts failures (including panics) into a result envelope
// rather than letting them escape, so a misbehaving subsystem can degrade
// one snapshot entry but never crash a coordination cycle.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/total-audio/meshos/pkg/mesh"
)

// ErrWritableAdapter is returned when an adapter is constructed without the
// read-only flag. This is the single hard safety invariant of the mesh and
// must not be caught and retried: fix the configuration.
var ErrWritableAdapter = errors.New("adapter must be read-only")

// Config carries construction parameters for an adapter.
type Config struct {
	WorkspaceID string
	ReadOnly    bool
}

// Validate enforces the read-only invariant at construction time.
func (c Config) Validate() error {
	if c.WorkspaceID == "" {
		return fmt.Errorf("workspace ID cannot be empty")
	}
	if !c.ReadOnly {
		return ErrWritableAdapter
	}
	return nil
}

// ReadResult is the only shape a subsystem read may return. Reads never
// panic or return a Go error across the adapter boundary: failures are
// folded into Success=false with the error text in Err.
type ReadResult[T any] struct {
	Success   bool
	Data      T
	Err       string
	Timestamp time.Time
}

// guard runs fn and converts any error or panic into a failed ReadResult.
func guard[T any](fn func() (T, error)) (result ReadResult[T]) {
	result.Timestamp = time.Now().UTC()

	defer func() {
		if r := recover(); r != nil {
			result = ReadResult[T]{
				Err:       fmt.Sprintf("adapter panic: %v", r),
				Timestamp: result.Timestamp,
			}
		}
	}()

	data, err := fn()
	if err != nil {
		result.Err = err.Error()
		return result
	}

	result.Success = true
	result.Data = data
	return result
}

// Adapter is a read-only accessor exposing one subsystem's state to the
// mesh. Implementations must never write to the subsystem.
type Adapter interface {
	// System returns the subsystem this adapter observes.
	System() mesh.Participant

	// GetState reads the subsystem's published state. A failed read yields
	// Success=false; it never returns an error or panics.
	GetState(ctx context.Context) ReadResult[mesh.SystemState]

	// Metric reads a single published metric by name.
	Metric(ctx context.Context, name string) ReadResult[float64]

	// Position reads the subsystem's preference in [0,1] for a negotiation
	// issue. Subsystems may publish an issue-specific metric
	// ("position:{issue}") or a general "position"; absent both, the
	// position is derived from load (a lightly-loaded system prefers
	// action).
	Position(ctx context.Context, issue string) ReadResult[float64]
}

// Registry holds one adapter per observed subsystem.
type Registry struct {
	adapters map[mesh.Participant]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[mesh.Participant]Adapter)}
}

// Register adds an adapter. Registering a second adapter for the same
// subsystem replaces the first.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.System()] = a
}

// Get returns the adapter for a subsystem, or nil if none is registered.
func (r *Registry) Get(system mesh.Participant) Adapter {
	return r.adapters[system]
}

// Systems returns the registered subsystem names in stable order.
func (r *Registry) Systems() []mesh.Participant {
	out := make([]mesh.Participant, 0, len(r.adapters))
	for system := range r.adapters {
		out = append(out, system)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}

// positionFromState derives a negotiation position from published state
// when no explicit position metric exists.
func positionFromState(state mesh.SystemState, issue string) float64 {
	if v, ok := state.Metrics["position:"+issue]; ok {
		return clamp01(v)
	}
	if v, ok := state.Metrics["position"]; ok {
		return clamp01(v)
	}
	return clamp01(1 - state.Load)
}

func timeFromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
