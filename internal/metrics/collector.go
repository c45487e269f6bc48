// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/big3labs/waveflow/workflow"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

var (
	_ workflow.MetricsRecorder            = (*Collector)(nil)
	_ workflow.CircuitBreakerEventHandler = (*Collector)(nil)
)

// Collector 指标收集器，实现 workflow.MetricsRecorder
type Collector struct {
	// 运行指标
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	// 批次指标
	batchesTotal *prometheus.CounterVec
	batchSize    prometheus.Histogram

	// 步骤指标
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	retriesTotal *prometheus.CounterVec

	// 校验与熔断
	validationsTotal   *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 在 reg 上注册指标。reg 为 nil 时使用默认 Registerer；
// 测试应传入私有 Registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of plan runs by outcome",
		},
		[]string{"outcome"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Plan run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"outcome"},
	)

	c.batchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_batches_total",
			Help:      "Total number of executed batches",
		},
		[]string{"failed"},
	)

	c.batchSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_batch_size",
			Help:      "Number of steps per batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of step executions by tool and status",
		},
		[]string{"tool", "status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Step duration in seconds, retries included",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	c.retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_step_retries_total",
			Help:      "Total number of step retries",
		},
		[]string{"tool"},
	)

	c.validationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_validations_total",
			Help:      "Total number of result validations by verdict",
		},
		[]string{"verdict"},
	)

	c.breakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state changes",
		},
		[]string{"tool", "from_state", "to_state"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 运行指标记录
// =============================================================================

// RecordRun 记录一次计划运行
func (c *Collector) RecordRun(outcome string, duration time.Duration) {
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordBatch 记录一个批次
func (c *Collector) RecordBatch(size int, failed bool) {
	c.batchesTotal.WithLabelValues(strconv.FormatBool(failed)).Inc()
	c.batchSize.Observe(float64(size))
}

// RecordStep 记录一次步骤执行。跳过的步骤没有耗时，不计入直方图
func (c *Collector) RecordStep(tool, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(tool, status).Inc()
	if duration > 0 {
		c.stepDuration.WithLabelValues(tool).Observe(duration.Seconds())
	}
}

// RecordRetry 记录一次重试
func (c *Collector) RecordRetry(tool string) {
	c.retriesTotal.WithLabelValues(tool).Inc()
}

// RecordValidation 记录校验结论
func (c *Collector) RecordValidation(passed bool) {
	c.validationsTotal.WithLabelValues(verdict(passed)).Inc()
}

// =============================================================================
// ⚡ 熔断事件
// =============================================================================

// OnStateChange 实现 workflow.CircuitBreakerEventHandler
func (c *Collector) OnStateChange(event workflow.CircuitBreakerEvent) {
	c.breakerTransitions.WithLabelValues(string(event.Tool), event.OldState.String(), event.NewState.String()).Inc()
	c.logger.Info("circuit breaker state changed",
		zap.String("tool", string(event.Tool)),
		zap.String("from", event.OldState.String()),
		zap.String("to", event.NewState.String()),
		zap.String("reason", event.Reason))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func verdict(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
