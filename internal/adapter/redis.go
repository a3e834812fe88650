package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/total-audio/meshos/pkg/mesh"
)

// StateReader is the narrow read-only surface an adapter needs from Redis.
// Exposing only HGetAll keeps the read-only invariant structural: an
// adapter holding a StateReader cannot issue a write.
type StateReader interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// RedisReader implements StateReader over a go-redis client.
type RedisReader struct {
	rdb *redis.Client
}

// NewRedisReader creates a read-only Redis accessor for adapters.
func NewRedisReader(opts *redis.Options) *RedisReader {
	return &RedisReader{rdb: redis.NewClient(opts)}
}

// HGetAll reads a full hash.
func (r *RedisReader) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, key).Result()
}

// Close closes the underlying connection. Implements io.Closer.
func (r *RedisReader) Close() error {
	return r.rdb.Close()
}

// SystemAdapter observes one subsystem through its published state hash at
// mesh:{workspace}:system:{name}:state. Subsystems write those hashes
// outside the mesh; the adapter only reads them.
type SystemAdapter struct {
	workspaceID string
	system      mesh.Participant
	reader      StateReader
}

// NewSystemAdapter constructs a read-only adapter for one subsystem.
// Construction fails fatally if cfg.ReadOnly is not true or the system is
// not a known subsystem.
func NewSystemAdapter(cfg Config, system mesh.Participant, reader StateReader) (*SystemAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := system.Validate(); err != nil {
		return nil, err
	}
	if !system.IsSubsystem() {
		return nil, fmt.Errorf("%q is not an observable subsystem", system)
	}
	if reader == nil {
		return nil, fmt.Errorf("state reader cannot be nil")
	}

	return &SystemAdapter{
		workspaceID: cfg.WorkspaceID,
		system:      system,
		reader:      reader,
	}, nil
}

// System returns the subsystem this adapter observes.
func (a *SystemAdapter) System() mesh.Participant {
	return a.system
}

// GetState reads the subsystem's published state hash.
func (a *SystemAdapter) GetState(ctx context.Context) ReadResult[mesh.SystemState] {
	return guard(func() (mesh.SystemState, error) {
		return a.readState(ctx)
	})
}

// Metric reads a single published metric by name.
func (a *SystemAdapter) Metric(ctx context.Context, name string) ReadResult[float64] {
	return guard(func() (float64, error) {
		state, err := a.readState(ctx)
		if err != nil {
			return 0, err
		}
		v, ok := state.Metrics[name]
		if !ok {
			return 0, fmt.Errorf("%s does not publish metric %q", a.system, name)
		}
		return v, nil
	})
}

// Position reads the subsystem's preference in [0,1] for a negotiation
// issue.
func (a *SystemAdapter) Position(ctx context.Context, issue string) ReadResult[float64] {
	return guard(func() (float64, error) {
		state, err := a.readState(ctx)
		if err != nil {
			return 0, err
		}
		return positionFromState(state, issue), nil
	})
}

func (a *SystemAdapter) readState(ctx context.Context) (mesh.SystemState, error) {
	key := mesh.SystemStateKey(a.workspaceID, a.system)

	hash, err := a.reader.HGetAll(ctx, key)
	if err != nil {
		return mesh.SystemState{}, fmt.Errorf("failed to read state for %s: %w", a.system, err)
	}
	if len(hash) == 0 {
		return mesh.SystemState{}, fmt.Errorf("%s has not published state", a.system)
	}

	state := mesh.SystemState{
		SystemName: a.system,
		Health:     mesh.Health(hash["health"]),
		Metrics:    map[string]float64{},
		Alerts:     []string{},
	}

	if err := state.Health.Validate(); err != nil {
		return mesh.SystemState{}, fmt.Errorf("%s published invalid health: %w", a.system, err)
	}

	load, err := strconv.ParseFloat(hash["load"], 64)
	if err != nil {
		return mesh.SystemState{}, fmt.Errorf("%s published invalid load: %w", a.system, err)
	}
	state.Load = clamp01(load)

	if metricsJSON := hash["metrics"]; metricsJSON != "" {
		if err := json.Unmarshal([]byte(metricsJSON), &state.Metrics); err != nil {
			return mesh.SystemState{}, fmt.Errorf("%s published invalid metrics: %w", a.system, err)
		}
	}
	if alertsJSON := hash["alerts"]; alertsJSON != "" {
		if err := json.Unmarshal([]byte(alertsJSON), &state.Alerts); err != nil {
			return mesh.SystemState{}, fmt.Errorf("%s published invalid alerts: %w", a.system, err)
		}
	}

	observedAt, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)
	if observedAt > 0 {
		state.ObservedAt = timeFromMs(observedAt)
	}

	return state, nil
}
