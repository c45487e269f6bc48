package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/big3labs/waveflow/types"
)

const tracerName = "github.com/big3labs/waveflow/workflow"

// CodeExecutor is the code-execution capability.
type CodeExecutor interface {
	Execute(ctx context.Context, sessionName, instruction string) (string, error)
}

// BrowserAutomation is the browser-automation capability.
type BrowserAutomation interface {
	Navigate(ctx context.Context, url string) error
	Act(ctx context.Context, task string) (string, error)
}

// StepOutput is the normalized result of one dispatch.
type StepOutput struct {
	StepID string `json:"step_id"`
	Output any    `json:"output"`
}

// StepHandler executes a single step. The Runner wraps it with retries.
type StepHandler interface {
	Handle(ctx context.Context, step *Step, ec *ExecutionContext) (any, error)
}

// StepHandlerFunc adapts a function to StepHandler.
type StepHandlerFunc func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error)

func (f StepHandlerFunc) Handle(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
	return f(ctx, step, ec)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithCircuitBreakers guards each tool kind with its own breaker.
func WithCircuitBreakers(registry *CircuitBreakerRegistry) DispatcherOption {
	return func(d *Dispatcher) { d.breakers = registry }
}

// WithRateLimit caps dispatches across all tool kinds. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if rps <= 0 {
			d.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithDispatcherTracer overrides the global tracer.
func WithDispatcherTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// Dispatcher routes a step to the capability matching its tool variant.
// It holds no per-dispatch state; capabilities manage their own.
type Dispatcher struct {
	code     CodeExecutor
	browser  BrowserAutomation
	breakers *CircuitBreakerRegistry
	limiter  *rate.Limiter
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewDispatcher builds a dispatcher over the given capabilities. Either may be
// nil, in which case dispatches needing it fail. It returns an error if any
// registered tool kind lacks a dispatch arm.
func NewDispatcher(code CodeExecutor, browser BrowserAutomation, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		code:    code,
		browser: browser,
		tracer:  otel.Tracer(tracerName),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "dispatcher"))

	for _, kind := range ToolKinds() {
		if _, ok := d.route(toolFactories[kind]()); !ok {
			return nil, fmt.Errorf("tool kind %q has no dispatch arm", kind)
		}
	}
	return d, nil
}

type dispatchArm func(ctx context.Context) (any, error)

// route 对每个变体做穷尽匹配
func (d *Dispatcher) route(tool Tool) (dispatchArm, bool) {
	switch t := tool.(type) {
	case CreateAgent:
		return func(ctx context.Context) (any, error) {
			return d.createAgent(t), nil
		}, true
	case CommandAgent:
		return func(ctx context.Context) (any, error) {
			return d.commandAgent(ctx, t)
		}, true
	case BrowserUse:
		return func(ctx context.Context) (any, error) {
			return d.browserUse(ctx, t)
		}, true
	default:
		return nil, false
	}
}

// Dispatch invokes the step's tool and returns (stepID, output).
func (d *Dispatcher) Dispatch(ctx context.Context, step *Step) (StepOutput, error) {
	if step == nil || step.Tool == nil {
		return StepOutput{}, types.NewError(types.ErrToolDispatch, "step has no tool")
	}
	kind := step.Tool.Kind()

	ctx, span := d.tracer.Start(ctx, "workflow.dispatch", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("tool.kind", string(kind)),
	))
	defer span.End()

	arm, ok := d.route(step.Tool)
	if !ok {
		err := types.NewToolDispatchError(step.ID, string(kind),
			fmt.Errorf("no dispatch arm for %T", step.Tool)).WithRetryable(false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StepOutput{}, err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return StepOutput{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var breaker *CircuitBreaker
	if d.breakers != nil {
		breaker = d.breakers.GetOrCreate(kind)
		if err := breaker.Allow(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			var te *types.Error
			if errors.As(err, &te) {
				err = te.WithStepID(step.ID)
			}
			return StepOutput{}, err
		}
	}

	d.logger.Debug("dispatching step",
		zap.String("step_id", step.ID),
		zap.String("tool", string(kind)),
		zap.String("describe", step.Tool.Describe()),
	)

	start := time.Now()
	out, err := arm(ctx)
	if err != nil {
		if breaker != nil && !errors.Is(err, context.Canceled) {
			breaker.RecordFailure()
		}
		if te, typed := types.AsError(err); !typed {
			err = types.NewToolDispatchError(step.ID, string(kind), err)
		} else if te.StepID == "" {
			te.StepID = step.ID
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StepOutput{}, err
	}
	if breaker != nil {
		breaker.RecordSuccess()
	}

	d.logger.Debug("step dispatched",
		zap.String("step_id", step.ID),
		zap.Duration("duration", time.Since(start)),
	)
	return StepOutput{StepID: step.ID, Output: out}, nil
}

// Handle implements StepHandler so a Dispatcher can back a Runner directly.
func (d *Dispatcher) Handle(ctx context.Context, step *Step, _ *ExecutionContext) (any, error) {
	out, err := d.Dispatch(ctx, step)
	if err != nil {
		return nil, err
	}
	return out.Output, nil
}

func (d *Dispatcher) createAgent(t CreateAgent) string {
	name := t.Name
	if name == "" {
		name = t.AgentType
	}
	return fmt.Sprintf("Created %s agent: %s", t.AgentType, name)
}

func (d *Dispatcher) commandAgent(ctx context.Context, t CommandAgent) (any, error) {
	if d.code == nil {
		return nil, types.NewError(types.ErrToolDispatch, "no code executor configured")
	}
	return d.code.Execute(ctx, t.Name, t.Instruction)
}

func (d *Dispatcher) browserUse(ctx context.Context, t BrowserUse) (any, error) {
	if d.browser == nil {
		return nil, types.NewError(types.ErrToolDispatch, "no browser configured")
	}
	if t.URL != "" {
		if err := d.browser.Navigate(ctx, t.URL); err != nil {
			return nil, fmt.Errorf("navigate %s: %w", t.URL, err)
		}
	}
	return d.browser.Act(ctx, t.Task)
}
