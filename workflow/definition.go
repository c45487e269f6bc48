package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/big3labs/waveflow/types"
)

// PlanDefinition is the file form of a plan.
type PlanDefinition struct {
	Name  string           `json:"name" yaml:"name"`
	Steps []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition declares one step. Key must be unique within the plan.
type StepDefinition struct {
	Key       string   `json:"key" yaml:"key"`
	Tool      ToolSpec `json:"tool" yaml:"tool"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Validate checks keys and tools without building a graph.
func (d *PlanDefinition) Validate() error {
	if len(d.Steps) == 0 {
		return types.NewError(types.ErrInvalidPlan, "plan definition has no steps")
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if strings.TrimSpace(s.Key) == "" {
			return types.NewError(types.ErrInvalidPlan, fmt.Sprintf("step %d has no key", i))
		}
		if seen[s.Key] {
			return types.NewError(types.ErrInvalidPlan, fmt.Sprintf("duplicate step key %q", s.Key))
		}
		seen[s.Key] = true
		if _, err := s.Tool.Tool(); err != nil {
			return types.NewError(types.ErrInvalidPlan, fmt.Sprintf("step %q", s.Key)).WithCause(err)
		}
	}
	return nil
}

// BuildGraph creates the steps and edges of the definition. It returns the
// graph and a map from step key to generated step id.
func (d *PlanDefinition) BuildGraph() (*PlanGraph, map[string]string, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	g := NewPlanGraph()
	ids := make(map[string]string, len(d.Steps))
	for _, s := range d.Steps {
		tool, _ := s.Tool.Tool()
		step := g.AddStep(tool)
		step.Label = s.Key
		ids[s.Key] = step.ID
	}

	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			depID, ok := ids[dep]
			if !ok {
				return nil, nil, types.NewStepNotFoundError(dep).
					WithCause(fmt.Errorf("referenced by step %q", s.Key))
			}
			if err := g.AddDependency(ids[s.Key], depID); err != nil {
				return nil, nil, fmt.Errorf("step %q depends on %q: %w", s.Key, dep, err)
			}
		}
	}
	return g, ids, nil
}

// BuildPlan builds the graph and resolves it into a Plan.
func (d *PlanDefinition) BuildPlan() (*Plan, map[string]string, error) {
	g, ids, err := d.BuildGraph()
	if err != nil {
		return nil, nil, err
	}
	plan, err := NewPlan(g)
	if err != nil {
		return nil, nil, err
	}
	return plan, ids, nil
}

// ParsePlanDefinition decodes YAML (which also accepts JSON).
func ParsePlanDefinition(data []byte) (*PlanDefinition, error) {
	var def PlanDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan definition: %w", err)
	}
	return &def, nil
}

// LoadPlanDefinition reads a definition file, choosing JSON or YAML by extension.
func LoadPlanDefinition(path string) (*PlanDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var def PlanDefinition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan JSON: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported plan file extension %q", filepath.Ext(path))
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &def, nil
}

// ToYAML renders the definition as YAML.
func (d *PlanDefinition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// DefinitionOf converts a built plan back to its file form, keyed by label.
func DefinitionOf(name string, plan *Plan) *PlanDefinition {
	def := &PlanDefinition{Name: name}
	for _, step := range plan.Resolved() {
		sd := StepDefinition{Key: step.Name(), Tool: SpecOf(step.Tool)}
		for _, dep := range step.dependencies {
			if ds, ok := plan.Steps[dep]; ok {
				sd.DependsOn = append(sd.DependsOn, ds.Name())
			}
		}
		def.Steps = append(def.Steps, sd)
	}
	return def
}
