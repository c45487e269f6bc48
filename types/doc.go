// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
Package types 提供 waveflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、persistence、
agent 等上层模块提供统一的错误与上下文契约。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 Retryable、StepID、Attempts
  - 错误码：STEP_NOT_FOUND / CIRCULAR_DEPENDENCY / INVALID_PLAN（构建期，不重试）、
    TOOL_DISPATCH / CIRCUIT_OPEN（执行期，可重试）、CANCELLED、VALIDATION

# 主要能力

  - 错误构造：NewStepNotFoundError / NewCircularDependencyError /
    NewToolDispatchError / NewValidationError
  - 错误工具链：AsError / IsCode / IsRetryable / GetErrorCode（基于 errors.As）
  - Context 传播：WithTraceID / WithPlanID / WithStepID
*/
package types
