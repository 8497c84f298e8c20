// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 持久化评测结果：GORM 结果库连接与 evaluation.ResultStore 实现。

# 概述

Connect 按驱动名（postgres、mysql、sqlite）打开结果库并设置连接池参数，
返回的 DB 提供就绪检查用的 Ping、go_sql_* 连接池指标与带重试的事务。
GormStore 在其之上以 task_id 为主键保存完整评测结果。

# 核心类型

  - DB：结果库连接，提供 Ping()、StatsCollector()、Transact()、Close()。
  - PoolConfig：最大空闲连接数、最大打开连接数与连接生命周期。
  - GormStore：Save 以 upsert 写入，Get 读取完整结果。
  - EvaluationRecord：结果表模型，完整结果以 JSON 存放于 Payload 列。

# 事务

Save 通过 Transact 执行，死锁、序列化失败、sqlite 的 database is locked
与断连会按指数退避重试。
*/
package database
