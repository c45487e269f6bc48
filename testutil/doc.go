// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 waveflow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 等待与断言: WaitFor / AssertEventuallyTrue
  - 文件工具: TempFile

# 子包

  - testutil/mocks: 能力模拟实现，包括 MockCodeExecutor（代码执行）与
    MockBrowser（浏览器自动化），均支持 Builder 模式、错误注入与调用记录

# 使用示例

	ctx := testutil.TestContext(t)
	exec := mocks.NewMockCodeExecutor().WithOutput("ok")
	out, err := exec.Execute(ctx, "session", "ls")
*/
package testutil
