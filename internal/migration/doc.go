// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
包 migration 管理 workflow_results 表的版本化 Schema，基于
golang-migrate 实现，支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在 migrations/<方言>/ 下，
命名为 NNNNNN_<name>.{up,down}.sql。Migrator 复用 PoolManager 已经
打开的 *sql.DB：postgres 与 mysql 使用 golang-migrate 自带驱动，
SQLite 使用本包的 sqliteDriver，直接在同一个单连接池上执行语句。

# 核心类型

  - Migrator：Up、Down、Steps、Version、Status、Info、Close。
  - DatabaseType：postgres / mysql / sqlite，ParseDatabaseType 解析。
  - MigrationStatus / MigrationInfo：单个迁移状态与整体摘要。

# 使用方式

SQL 结果存储打开时调用 Up 把表迁移到最新版本；waveflow migrate
up|down|version 子命令提供手动操作。
*/
package migration
