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
	"golang.org/x/sync/errgroup"

	"github.com/big3labs/waveflow/retry"
	"github.com/big3labs/waveflow/types"
)

// Mode selects how a plan is executed.
type Mode string

const (
	// ModeSequential runs steps one at a time and stops at the first failure.
	ModeSequential Mode = "sequential"
	// ModeParallel runs batch by batch, steps of a batch concurrently.
	ModeParallel Mode = "parallel"
)

// FailurePolicy decides which steps of a batch are marked failed.
type FailurePolicy string

const (
	// FailurePolicyBatch marks the whole batch failed when any step in it fails.
	FailurePolicyBatch FailurePolicy = "batch"
	// FailurePolicyStep marks only the failing steps.
	FailurePolicyStep FailurePolicy = "step"
)

// ResultSaver persists finished results.
type ResultSaver interface {
	Save(ctx context.Context, result *WorkflowResult) error
}

// MetricsRecorder receives run measurements.
type MetricsRecorder interface {
	RecordRun(outcome string, duration time.Duration)
	RecordBatch(size int, failed bool)
	RecordStep(tool, status string, duration time.Duration)
	RecordRetry(tool string)
	RecordValidation(passed bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordRun(string, time.Duration)          {}
func (noopRecorder) RecordBatch(int, bool)                    {}
func (noopRecorder) RecordStep(string, string, time.Duration) {}
func (noopRecorder) RecordRetry(string)                       {}
func (noopRecorder) RecordValidation(bool)                    {}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRetryPolicy sets the policy applied to every step of a run.
func WithRetryPolicy(policy *retry.RetryPolicy) RunnerOption {
	return func(r *Runner) {
		if policy != nil {
			r.policy = policy
		}
	}
}

// WithMaxConcurrency bounds concurrent steps within a batch. n <= 0 means unbounded.
func WithMaxConcurrency(n int) RunnerOption {
	return func(r *Runner) { r.maxConcurrency = n }
}

// WithFailurePolicy sets the batch failure policy.
func WithFailurePolicy(p FailurePolicy) RunnerOption {
	return func(r *Runner) {
		if p != "" {
			r.failurePolicy = p
		}
	}
}

// WithStepTimeout bounds each attempt of a step.
func WithStepTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.stepTimeout = d }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithStore saves every finished result.
func WithStore(store ResultSaver) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithHistoryLimit caps how many recent runs History keeps.
func WithHistoryLimit(n int) RunnerOption {
	return func(r *Runner) { r.history = NewExecutionHistoryStore(n) }
}

// WithTracer overrides the global tracer.
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// Runner executes plans through a StepHandler.
// A Runner may be shared; each run keeps its state private.
type Runner struct {
	handler        StepHandler
	policy         *retry.RetryPolicy
	maxConcurrency int
	failurePolicy  FailurePolicy
	stepTimeout    time.Duration
	metrics        MetricsRecorder
	store          ResultSaver
	tracer         trace.Tracer
	history        *ExecutionHistoryStore
	logger         *zap.Logger
}

// NewRunner creates a runner. Without WithRetryPolicy steps run once.
func NewRunner(handler StepHandler, opts ...RunnerOption) *Runner {
	r := &Runner{
		handler:       handler,
		policy:        retry.NoRetry(),
		failurePolicy: FailurePolicyBatch,
		metrics:       noopRecorder{},
		tracer:        otel.Tracer(tracerName),
		history:       NewExecutionHistoryStore(DefaultHistoryLimit),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "runner"))
	return r
}

// History returns the attempt history of the latest run of a plan.
func (r *Runner) History(planID string) (*ExecutionHistory, bool) {
	return r.history.Get(planID)
}

// Run executes the plan in the given mode.
func (r *Runner) Run(ctx context.Context, plan *Plan, mode Mode) (*WorkflowResult, error) {
	switch mode {
	case ModeSequential:
		return r.RunSequential(ctx, plan)
	case ModeParallel, "":
		return r.RunParallel(ctx, plan)
	default:
		return nil, fmt.Errorf("unknown run mode %q", mode)
	}
}

// runState 单次运行的私有状态
type runState struct {
	plan   *Plan
	result *WorkflowResult
	ec     *ExecutionContext
	hist   *ExecutionHistory
	span   trace.Span
}

func (r *Runner) begin(ctx context.Context, plan *Plan, mode Mode) (context.Context, *runState, error) {
	if r.handler == nil {
		return ctx, nil, types.NewError(types.ErrInvalidPlan, "runner has no step handler")
	}
	if plan == nil || len(plan.Steps) == 0 {
		return ctx, nil, types.NewError(types.ErrInvalidPlan, "plan has no steps")
	}

	plan.reset()
	ctx = types.WithPlanID(ctx, plan.ID)
	ctx, span := r.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("plan.id", plan.ID),
		attribute.String("run.mode", string(mode)),
		attribute.Int("plan.steps", len(plan.Steps)),
		attribute.Int("plan.batches", len(plan.Batches)),
	))

	st := &runState{
		plan:   plan,
		result: newWorkflowResult(plan.ID),
		ec:     NewExecutionContext(plan.ID),
		hist:   NewExecutionHistory(plan.ID, string(mode)),
		span:   span,
	}
	r.history.Save(st.hist)

	r.logger.Info("run started",
		zap.String("plan_id", plan.ID),
		zap.String("mode", string(mode)),
		zap.Int("steps", len(plan.Steps)),
		zap.Int("batches", len(plan.Batches)),
	)
	return ctx, st, nil
}

func (r *Runner) finish(ctx context.Context, st *runState, runErr error) {
	st.result.FinishedAt = time.Now()
	outcome := st.result.Outcome()
	st.hist.Complete(outcome, runErr)

	st.span.SetAttributes(attribute.String("run.outcome", string(outcome)))
	if runErr != nil {
		st.span.RecordError(runErr)
		st.span.SetStatus(codes.Error, runErr.Error())
	}
	st.span.End()

	r.metrics.RecordRun(string(outcome), st.result.Duration())
	r.logger.Info("run finished",
		zap.String("plan_id", st.plan.ID),
		zap.String("outcome", string(outcome)),
		zap.Int("completed", len(st.result.CompletedNodes)),
		zap.Int("failed", len(st.result.FailedNodes)),
		zap.Duration("duration", st.result.Duration()),
	)

	if r.store != nil {
		// 即使调用方已取消，也要保存审计记录
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.store.Save(saveCtx, st.result); err != nil {
			r.logger.Warn("failed to save workflow result",
				zap.String("plan_id", st.plan.ID),
				zap.Error(err),
			)
		}
	}
}

// RunSequential executes steps one at a time in resolved order. The first
// failure stops the run; later steps are never invoked. Each output is added
// to the execution context before the next step starts.
func (r *Runner) RunSequential(ctx context.Context, plan *Plan) (*WorkflowResult, error) {
	ctx, st, err := r.begin(ctx, plan, ModeSequential)
	if err != nil {
		return nil, err
	}

	steps := plan.Resolved()
	var runErr error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			r.cancelRemaining(st, steps[i:], err)
			runErr = err
			break
		}

		out := r.execute(ctx, st, step, i)
		if out.err != nil {
			r.recordFailure(st, step, out)
			runErr = out.err
			if ctx.Err() != nil {
				r.cancelRemaining(st, steps[i+1:], ctx.Err())
			}
			r.logger.Error("step failed, stopping sequential run",
				zap.String("plan_id", plan.ID),
				zap.String("step_id", step.ID),
				zap.Int("attempts", out.attempts),
				zap.Error(out.err),
			)
			break
		}
		r.recordSuccess(st, step, out)
	}

	r.finish(ctx, st, runErr)
	return st.result, runErr
}

// RunParallel executes the plan batch by batch. Steps of one batch run
// concurrently, bounded by the max concurrency, and the runner waits for all
// of them before moving on. Failures are recorded per the failure policy and
// the next batch still runs; steps whose dependencies failed are recorded as
// failed without being invoked. Only cancellation returns an error.
func (r *Runner) RunParallel(ctx context.Context, plan *Plan) (*WorkflowResult, error) {
	ctx, st, err := r.begin(ctx, plan, ModeParallel)
	if err != nil {
		return nil, err
	}

	failed := make(map[string]bool)
	var runErr error

	for bi, batch := range plan.Batches {
		if err := ctx.Err(); err != nil {
			var rest []*Step
			for _, ids := range plan.Batches[bi:] {
				for _, id := range ids {
					rest = append(rest, plan.Steps[id])
				}
			}
			r.cancelRemaining(st, rest, err)
			runErr = err
			break
		}

		r.runBatch(ctx, st, bi, batch, failed)
	}

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	r.finish(ctx, st, runErr)
	return st.result, runErr
}

// stepOutcome 每个步骤独占一个结果槽位
type stepOutcome struct {
	output   any
	attempts int
	err      error
	duration time.Duration
	blocked  string // 被失败的依赖阻塞时记录原因
}

func (r *Runner) runBatch(ctx context.Context, st *runState, bi int, batch []string, failed map[string]bool) {
	ctx, span := r.tracer.Start(ctx, "workflow.batch", trace.WithAttributes(
		attribute.Int("batch.index", bi),
		attribute.Int("batch.size", len(batch)),
	))
	defer span.End()

	slots := make([]stepOutcome, len(batch))

	var g errgroup.Group
	if r.maxConcurrency > 0 {
		g.SetLimit(r.maxConcurrency)
	}

	for i, id := range batch {
		step := st.plan.Steps[id]
		if dep, ok := firstFailed(step, failed); ok {
			slots[i] = stepOutcome{blocked: fmt.Sprintf("dependency failed: %s", dep)}
			continue
		}
		g.Go(func() error {
			slots[i] = r.execute(ctx, st, step, bi)
			return nil
		})
	}
	_ = g.Wait()

	// 只有真正执行失败的步骤才触发整批失败，被阻塞的步骤不算
	batchFailed, hasBlocked := false, false
	for _, s := range slots {
		if s.err != nil {
			batchFailed = true
		}
		if s.blocked != "" {
			hasBlocked = true
		}
	}

	for i, id := range batch {
		step := st.plan.Steps[id]
		out := slots[i]
		switch {
		case out.blocked != "":
			step.setStatus(StepFailed)
			st.result.fail(id, out.blocked, 0)
			failed[id] = true
			r.metrics.RecordStep(toolKind(step), "skipped", 0)
		case out.err != nil:
			r.recordFailure(st, step, out)
			failed[id] = true
		case batchFailed && r.failurePolicy == FailurePolicyBatch:
			// 整批记为失败，但输出是真实的，下游步骤仍可使用
			step.setStatus(StepFailed)
			st.result.fail(id, "batch failed: a sibling step failed", out.attempts)
			st.result.Outputs[id] = out.output
			st.ec.SetOutput(id, out.output)
			r.metrics.RecordStep(toolKind(step), "batch_failed", out.duration)
		default:
			r.recordSuccess(st, step, out)
		}
	}

	r.metrics.RecordBatch(len(batch), batchFailed || hasBlocked)
	if batchFailed || hasBlocked {
		span.SetStatus(codes.Error, "batch had failures")
		r.logger.Warn("batch finished with failures",
			zap.String("plan_id", st.plan.ID),
			zap.Int("batch", bi),
			zap.Int("size", len(batch)),
			zap.String("failure_policy", string(r.failurePolicy)),
		)
		return
	}
	r.logger.Info("batch completed",
		zap.String("plan_id", st.plan.ID),
		zap.Int("batch", bi),
		zap.Int("size", len(batch)),
	)
}

// toolKind 用于日志和指标的工具类型，缺少工具时为 "none"
func toolKind(step *Step) string {
	if step.Tool == nil {
		return "none"
	}
	return string(step.Tool.Kind())
}

func firstFailed(step *Step, failed map[string]bool) (string, bool) {
	for _, dep := range step.dependencies {
		if failed[dep] {
			return dep, true
		}
	}
	return "", false
}

// execute 执行单个步骤（含重试），只写入自己的返回值
func (r *Runner) execute(ctx context.Context, st *runState, step *Step, batch int) stepOutcome {
	step.setStatus(StepRunning)
	start := time.Now()
	out, attempts, err := r.retryStep(ctx, st, step, batch)
	return stepOutcome{
		output:   out,
		attempts: attempts,
		err:      err,
		duration: time.Since(start),
	}
}

func (r *Runner) recordSuccess(st *runState, step *Step, out stepOutcome) {
	step.setStatus(StepCompleted)
	st.result.complete(step.ID, out.output, out.attempts)
	st.ec.SetOutput(step.ID, out.output)
	r.metrics.RecordStep(toolKind(step), StepCompleted.String(), out.duration)
}

func (r *Runner) recordFailure(st *runState, step *Step, out stepOutcome) {
	step.setStatus(StepFailed)
	st.result.fail(step.ID, out.err.Error(), out.attempts)
	r.metrics.RecordStep(toolKind(step), StepFailed.String(), out.duration)
	r.logger.Error("step failed",
		zap.String("plan_id", st.plan.ID),
		zap.String("step_id", step.ID),
		zap.String("tool", toolKind(step)),
		zap.Int("attempts", out.attempts),
		zap.Error(out.err),
	)
}

func (r *Runner) cancelRemaining(st *runState, steps []*Step, cause error) {
	for _, step := range steps {
		if step.Status().Terminal() {
			continue
		}
		step.setStatus(StepFailed)
		err := types.NewError(types.ErrCancelled, "run cancelled before step started").
			WithStepID(step.ID).
			WithCause(cause)
		st.result.fail(step.ID, err.Error(), 0)
	}
	r.logger.Warn("run cancelled",
		zap.String("plan_id", st.plan.ID),
		zap.Int("cancelled_steps", len(steps)),
		zap.Error(cause),
	)
}

// RetryStep runs one step under the runner's retry policy. On failure the
// returned *types.Error carries the number of attempts made.
func (r *Runner) RetryStep(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
	if ec == nil {
		ec = NewExecutionContext("")
	}
	st := &runState{ec: ec, hist: NewExecutionHistory(ec.PlanID, "single")}
	out, _, err := r.retryStep(ctx, st, step, 0)
	return out, err
}

func (r *Runner) retryStep(ctx context.Context, st *runState, step *Step, batch int) (any, int, error) {
	if step.Tool == nil {
		return nil, 0, types.NewError(types.ErrToolDispatch, "step has no tool").
			WithStepID(step.ID).
			WithRetryable(false)
	}
	kind := string(step.Tool.Kind())

	policy := *r.policy
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.metrics.RecordRetry(kind)
		r.logger.Warn("retrying step",
			zap.String("step_id", step.ID),
			zap.String("tool", kind),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if userOnRetry != nil {
			userOnRetry(attempt, err, delay)
		}
	}
	retryer := retry.NewBackoffRetryer(&policy, r.logger)

	attempts := 0
	out, err := retryer.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		attempts++
		rec := st.hist.RecordAttemptStart(step, batch, attempts)
		out, err := r.attempt(ctx, step, st.ec)
		st.hist.RecordAttemptEnd(rec, err)
		return out, err
	})
	if err == nil {
		return out, attempts, nil
	}

	n := retry.Attempts(err)
	if ctx.Err() != nil {
		return nil, n, types.NewError(types.ErrCancelled, "step cancelled").
			WithStepID(step.ID).
			WithAttempts(n).
			WithCause(err)
	}

	var exhausted *retry.ExhaustedError
	cause := err
	if errors.As(err, &exhausted) {
		cause = exhausted.Err
	}
	if te, ok := types.AsError(cause); ok {
		te.Attempts = n
		if te.StepID == "" {
			te.StepID = step.ID
		}
		return nil, n, cause
	}
	return nil, n, types.NewToolDispatchError(step.ID, kind, cause).WithAttempts(n)
}

// attempt 单次执行，带可选超时与 panic 保护
func (r *Runner) attempt(ctx context.Context, step *Step, ec *ExecutionContext) (out any, err error) {
	parent := ctx
	if r.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.stepTimeout)
		defer cancel()
	}
	ctx = types.WithStepID(ctx, step.ID)

	defer func() {
		if p := recover(); p != nil {
			err = types.NewToolDispatchError(step.ID, toolKind(step), fmt.Errorf("handler panic: %v", p))
		}
	}()

	out, err = r.handler.Handle(ctx, step, ec)
	if err != nil && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// 单步超时可重试，与整体取消区分
		return nil, types.NewToolDispatchError(step.ID, toolKind(step),
			fmt.Errorf("step timed out after %v: %v", r.stepTimeout, err))
	}
	return out, err
}
