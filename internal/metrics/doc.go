// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的计划执行指标采集能力。

# 概述

Collector 实现 workflow.MetricsRecorder 与 CircuitBreakerEventHandler，
通过 promauto.With 注册到调用方给出的 Registerer，测试使用私有 Registry。

# 指标

  - workflow_runs_total / workflow_run_duration_seconds：按 outcome 分组。
  - workflow_batches_total / workflow_batch_size：批次数量与规模。
  - workflow_steps_total / workflow_step_duration_seconds：按 tool/status 分组。
  - workflow_step_retries_total：按 tool 分组的重试次数。
  - workflow_validations_total：按 verdict（pass/fail）分组。
  - circuit_breaker_transitions_total：熔断器状态变化。
*/
package metrics
