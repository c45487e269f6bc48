package workflow

import (
	"time"
)

// Outcome classifies a finished run without inspecting errors.
type Outcome string

const (
	OutcomeNothingRan Outcome = "nothing_ran"
	OutcomeFailed     Outcome = "failed"
	OutcomePartial    Outcome = "partial"
	OutcomeClean      Outcome = "clean"
)

// WorkflowResult is the audit record of one run. It is produced once by the
// Runner and should be treated as read-only afterwards.
type WorkflowResult struct {
	PlanID         string         `json:"plan_id"`
	CompletedNodes []string       `json:"completed_nodes"`
	FailedNodes    []string       `json:"failed_nodes"`
	Outputs        map[string]any `json:"outputs"`

	// Errors holds the failure reason per failed step.
	Errors     map[string]string `json:"errors,omitempty"`
	Attempts   map[string]int    `json:"attempts,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

func newWorkflowResult(planID string) *WorkflowResult {
	return &WorkflowResult{
		PlanID:         planID,
		CompletedNodes: []string{},
		FailedNodes:    []string{},
		Outputs:        make(map[string]any),
		Errors:         make(map[string]string),
		Attempts:       make(map[string]int),
		StartedAt:      time.Now(),
	}
}

// Outcome reports whether nothing ran, everything failed, some steps failed,
// or the run was clean.
func (r *WorkflowResult) Outcome() Outcome {
	switch {
	case len(r.CompletedNodes) == 0 && len(r.FailedNodes) == 0:
		return OutcomeNothingRan
	case len(r.FailedNodes) == 0:
		return OutcomeClean
	case len(r.CompletedNodes) == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// Duration is the wall-clock time of the run.
func (r *WorkflowResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether stepID is recorded as failed.
func (r *WorkflowResult) Failed(stepID string) bool {
	for _, id := range r.FailedNodes {
		if id == stepID {
			return true
		}
	}
	return false
}

func (r *WorkflowResult) complete(stepID string, output any, attempts int) {
	r.CompletedNodes = append(r.CompletedNodes, stepID)
	r.Outputs[stepID] = output
	r.Attempts[stepID] = attempts
}

func (r *WorkflowResult) fail(stepID, reason string, attempts int) {
	r.FailedNodes = append(r.FailedNodes, stepID)
	r.Errors[stepID] = reason
	if attempts > 0 {
		r.Attempts[stepID] = attempts
	}
}
