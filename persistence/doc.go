// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
包 persistence 持久化运行结束后的 WorkflowResult。

所有实现都满足 ResultStore（同时也是 workflow.ResultSaver），
以 plan id 为键，重复保存会覆盖旧结果，List 按结束时间倒序返回。

  - MemoryResultStore：进程内 map，开发与测试使用。
  - RedisResultStore：<prefix>result:<planID> 存 JSON 并设置 TTL，
    <prefix>results 有序集合按结束时间建立索引。
  - SQLResultStore：GORM 自动迁移 workflow_results 表，列表字段以
    JSON 文本保存；方言由 internal/database 按驱动选择。

NewResultStore 按 StoreConfig.Type 选择实现。
*/
package persistence
