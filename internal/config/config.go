// Package config loads and validates mesh.yml, the workspace configuration
// for the MeshOS coordination layer.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/total-audio/meshos/pkg/mesh"
)

// MeshConfig represents the top-level mesh.yml configuration.
type MeshConfig struct {
	Version      string                     `yaml:"version"`
	Workspace    string                     `yaml:"workspace"`
	Subsystems   map[string]Subsystem       `yaml:"subsystems"`
	DriftChecks  []DriftCheck               `yaml:"drift_checks,omitempty"`
	Orchestrator *OrchestratorConfig        `yaml:"orchestrator,omitempty"`
	Policy       *mesh.Policy               `yaml:"policy,omitempty"` // Initial policy; live policy is stored and updated via the policy engine
}

// Subsystem configures one observed subsystem: how heavily its position
// counts in negotiations and its standing risk/opportunity estimates.
type Subsystem struct {
	Weight      float64 `yaml:"weight"`                // Negotiation weight, > 0
	Risk        float64 `yaml:"risk,omitempty"`        // Standing risk estimate in [0,1]
	Opportunity float64 `yaml:"opportunity,omitempty"` // Standing opportunity value in [0,1]
	Enabled     *bool   `yaml:"enabled,omitempty"`     // Default: true
}

// IsEnabled reports whether the subsystem participates in coordination.
func (s *Subsystem) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DriftCheck configures one pairwise disagreement check run every cycle.
type DriftCheck struct {
	Name        string  `yaml:"name"`         // Drift type, e.g. "creative-vs-targeting"
	SystemA     string  `yaml:"system_a"`     // Subsystem providing the expected value
	MetricA     string  `yaml:"metric_a"`     // Metric read from system A
	SystemB     string  `yaml:"system_b"`     // Subsystem providing the actual value
	MetricB     string  `yaml:"metric_b"`     // Metric read from system B
	Sensitivity float64 `yaml:"sensitivity"`  // Scales the normalised difference; default 1.0
}

// OrchestratorConfig tunes the coordination cycle.
type OrchestratorConfig struct {
	DriftEnabled    *bool         `yaml:"drift_enabled,omitempty"`    // Default: true
	PlanningEnabled *bool         `yaml:"planning_enabled,omitempty"` // Default: true
	MessageBatch    int           `yaml:"message_batch,omitempty"`    // Pending messages processed per cycle; default 50
	AdapterTimeout  time.Duration `yaml:"adapter_timeout,omitempty"`  // Per-adapter read timeout; default 3s
}

// DriftOn reports whether the drift pass runs during cycles.
func (o *OrchestratorConfig) DriftOn() bool {
	return o == nil || o.DriftEnabled == nil || *o.DriftEnabled
}

// PlanningOn reports whether the planning pass runs during cycles.
func (o *OrchestratorConfig) PlanningOn() bool {
	return o == nil || o.PlanningEnabled == nil || *o.PlanningEnabled
}

// Batch returns the pending-message batch size.
func (o *OrchestratorConfig) Batch() int {
	if o == nil || o.MessageBatch <= 0 {
		return 50
	}
	return o.MessageBatch
}

// Timeout returns the per-adapter read timeout.
func (o *OrchestratorConfig) Timeout() time.Duration {
	if o == nil || o.AdapterTimeout <= 0 {
		return 3 * time.Second
	}
	return o.AdapterTimeout
}

// Validate performs strict validation on the configuration.
func (c *MeshConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}

	if len(c.Subsystems) == 0 {
		return fmt.Errorf("no subsystems defined")
	}

	for name, sub := range c.Subsystems {
		p := mesh.Participant(name)
		if err := p.Validate(); err != nil {
			return fmt.Errorf("subsystem '%s': %w", name, err)
		}
		if !p.IsSubsystem() {
			return fmt.Errorf("subsystem '%s': engine names cannot be configured as subsystems", name)
		}
		if sub.Weight <= 0 {
			return fmt.Errorf("subsystem '%s': weight must be > 0, got %v", name, sub.Weight)
		}
		if sub.Risk < 0 || sub.Risk > 1 {
			return fmt.Errorf("subsystem '%s': risk must be in [0,1], got %v", name, sub.Risk)
		}
		if sub.Opportunity < 0 || sub.Opportunity > 1 {
			return fmt.Errorf("subsystem '%s': opportunity must be in [0,1], got %v", name, sub.Opportunity)
		}
	}

	for i, check := range c.DriftChecks {
		if check.Name == "" {
			return fmt.Errorf("drift check %d: name is required", i)
		}
		for _, pair := range []struct{ label, system, metric string }{
			{"system_a", check.SystemA, check.MetricA},
			{"system_b", check.SystemB, check.MetricB},
		} {
			if pair.system == "" || pair.metric == "" {
				return fmt.Errorf("drift check '%s': %s and its metric are required", check.Name, pair.label)
			}
			if _, ok := c.Subsystems[pair.system]; !ok {
				return fmt.Errorf("drift check '%s': %s references unknown subsystem '%s'", check.Name, pair.label, pair.system)
			}
		}
		if check.Sensitivity < 0 {
			return fmt.Errorf("drift check '%s': sensitivity must be >= 0, got %v", check.Name, check.Sensitivity)
		}
	}

	if c.Policy != nil {
		if c.Policy.WorkspaceID == "" {
			c.Policy.WorkspaceID = c.Workspace
		}
		if err := c.Policy.Validate(); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}

	return nil
}

// EnabledSubsystems returns the participants enabled for coordination.
func (c *MeshConfig) EnabledSubsystems() []mesh.Participant {
	var out []mesh.Participant
	for _, p := range mesh.Subsystems() {
		sub, ok := c.Subsystems[string(p)]
		if ok && sub.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}

// Load reads and validates mesh.yml from the specified path.
func Load(path string) (*MeshConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config MeshConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
