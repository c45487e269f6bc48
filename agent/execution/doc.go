// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
包 execution 为 command_agent 步骤提供代码执行能力。

# 概述

每个会话名对应 workspace_root 下的一个工作目录，同一会话的多次
指令共享该目录中的文件。指令作为 shell 脚本交给执行后端运行，
返回去除首尾空白的 stdout；非零退出码转换为携带 stderr 的错误。

# 核心类型

  - CommandExecutor：实现 workflow.CodeExecutor，负责工作区映射、
    超时控制、危险指令检查、输出截断与执行统计。
  - ExecutionBackend：执行后端抽象，由 NativeBackend（本地 bash，
    仅限受信环境）和 DockerBackend（docker CLI，工作区挂载到
    /workspace）实现。
  - InstructionGuard：执行前按黑名单匹配危险 shell 模式。
*/
package execution
