// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
包 telemetry 封装 OpenTelemetry SDK 初始化逻辑，
为 WaveFlow 提供集中式的 TracerProvider 和 MeterProvider 配置。

启用时通过 OTLP gRPC 导出 trace 与 metric，并注册为全局 provider，
Runner 与 Dispatcher 的 span 因此自动导出。
禁用时使用 noop 实现，不连接任何外部服务。

WithSpanExporter / WithMetricReader 可替换 OTLP 导出目标，
测试中配合 tracetest.InMemoryExporter 检查 workflow.run、
workflow.batch、workflow.dispatch 三层 span。
*/
package telemetry
