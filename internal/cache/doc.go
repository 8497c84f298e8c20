// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理响应缓存共享的 Redis 连接。

# 概述

Manager 负责 Redis 客户端的创建、连接探测、后台健康检查与关闭。
读写逻辑位于 llm/cache：MultiLevelCache 通过 Manager.Client() 取得
redis.UniversalClient 作为二级缓存。

# 核心类型

  - Manager：持有 *redis.Client，提供 Client()、Ping()、Close()，
    StatsCollector() 把连接池统计导出为 Prometheus 指标。
  - Config：地址、密码、库编号、TLS 开关、连接池大小与健康检查间隔。
*/
package cache
