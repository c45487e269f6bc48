// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
包 config 提供 WaveFlow 的配置管理功能。

配置按 默认值 → YAML 文件 → 环境变量（前缀 WAVEFLOW）的顺序加载，
Validate 一次性汇总所有问题。各节通过转换方法生成下游组件
（Runner、重试策略、熔断器、执行沙箱、浏览器、结果存储）所需的配置。

FileWatcher 轮询文件修改时间，供 run --watch 在计划文件变更后重新执行。
*/
package config
