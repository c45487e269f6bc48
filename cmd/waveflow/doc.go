// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
Package main 提供 waveflow 命令行入口。

# 概述

waveflow 加载 YAML/JSON 计划文件，按依赖拓扑分批执行各步骤，
再用结果校验器检查产出。配置按 默认值 → YAML → WAVEFLOW_* 环境变量
→ 命令行参数 的顺序叠加。

# 子命令

  - run：执行计划并校验，结果 JSON 输出到 stdout 或 --out；--watch 时
    计划文件变化后重新执行。
  - validate：重新校验 run 写出的结果文件，或按 --id 从结果存储读取。
  - results：list/show/delete 结果存储中的记录。
  - migrate：up/down/status/version 管理 database 配置下的 workflow_results 表结构。
  - version / help。

# 退出码

  - 0：执行与校验都通过。
  - 1：执行出错或校验未通过。
  - 2：参数、配置或计划文件错误。
*/
package main
