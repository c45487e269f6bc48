package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithPlanID(ctx, "plan-1")
	if got, ok := PlanID(ctx); !ok || got != "plan-1" {
		t.Fatalf("PlanID mismatch: %v %v", got, ok)
	}

	ctx = WithStepID(ctx, "node-1")
	if got, ok := StepID(ctx); !ok || got != "node-1" {
		t.Fatalf("StepID mismatch: %v %v", got, ok)
	}

	if _, ok := StepID(context.Background()); ok {
		t.Fatalf("expected no step id on empty context")
	}
}
