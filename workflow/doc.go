// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供多步骤 Agent 工作流的规划与执行核心。

# 概述

调用方提交一组工具请求（创建子 Agent、编码指令、浏览器操作），
workflow 包将其构建为带依赖关系的计划图，解析为确定性的拓扑顺序，
再划分为可最大并行的批次，由 Runner 逐批执行并产出可审计的
WorkflowResult，最后由 Validator 判定结果是否可信。

# 核心类型

  - PlanGraph：步骤与依赖边；AddDependency 在插入时拒绝成环
  - Plan：解析后的步骤顺序与批次划分
  - ComputeBatches：贪心就绪集分批
  - Tool：封闭的工具变体集合：CreateAgent / CommandAgent / BrowserUse
  - Dispatcher：将步骤路由到对应能力（CodeExecutor / BrowserAutomation）
  - Runner：顺序模式（遇错即停）与并行模式（有界并发、部分失败容忍）
  - Validator：失败节点、空输出与路径存在性检查
  - PlanDefinition：YAML / JSON 计划文件

# 主要能力

  - 重试：固定或指数退避，失败错误携带尝试次数
  - 失败策略：FailurePolicyBatch（整批失败，默认）/ FailurePolicyStep
  - 熔断与限流：按工具类型的 CircuitBreaker，x/time/rate 令牌桶
  - 取消：context 贯穿 Runner，剩余步骤记录为 CANCELLED
  - 执行历史：ExecutionHistory 记录每次尝试
*/
package workflow
