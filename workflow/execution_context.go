package workflow

import (
	"maps"
	"sync"
)

// ExecutionContext accumulates step outputs during a run so later steps can
// read what earlier ones produced. It does no automatic data-flow wiring.
type ExecutionContext struct {
	PlanID string

	mu      sync.RWMutex
	outputs map[string]any
}

// NewExecutionContext creates an empty context for one run.
func NewExecutionContext(planID string) *ExecutionContext {
	return &ExecutionContext{
		PlanID:  planID,
		outputs: make(map[string]any),
	}
}

// SetOutput records the output of a completed step.
func (ec *ExecutionContext) SetOutput(stepID string, output any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.outputs[stepID] = output
}

// Output returns a prior step's output.
func (ec *ExecutionContext) Output(stepID string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.outputs[stepID]
	return v, ok
}

// Outputs returns a snapshot of all outputs.
func (ec *ExecutionContext) Outputs() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return maps.Clone(ec.outputs)
}
