// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
包 database 为 SQL 结果存储提供基于 GORM 的连接管理。

# 概述

Open 按 Config.Driver 选择方言（postgres、mysql 或纯 Go 的
glebarez sqlite），打开连接后交给 PoolManager 统一管理连接池、
后台健康检查与事务重试。

# 核心类型

  - Config：驱动、连接参数与连接池配置，DSN() 生成连接串。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、SQLDB()、Dialect()、Ping()、
    Stats()、Close()、WithTransaction()、WithTransactionRetry()。
  - PoolConfig：连接池配置，Validate() 检查取值。
*/
package database
