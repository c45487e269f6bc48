package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID contextKey = "trace_id"
	keyPlanID  contextKey = "plan_id"
	keyStepID  contextKey = "step_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithPlanID adds the executing plan ID to context.
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, keyPlanID, planID)
}

// PlanID extracts the plan ID from context.
func PlanID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyPlanID).(string)
	return v, ok && v != ""
}

// WithStepID adds the executing step ID to context.
func WithStepID(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, keyStepID, stepID)
}

// StepID extracts the step ID from context.
func StepID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyStepID).(string)
	return v, ok && v != ""
}
