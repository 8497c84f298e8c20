// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的评测链路指标采集，覆盖 HTTP、推理调用、
评测阶段、缓存与结果存储五个维度。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 向量指标。
    NewCollector 注册到默认 Registry；NewCollectorWithRegistry 用于测试
    或多实例场景，避免重复注册 panic。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 推理指标：请求总数、耗时、token 用量、重试次数，按 provider/model 分组。
  - 评测指标：评测总数（success/failure/error）、阶段耗时、截图得分分布。
  - 缓存指标：命中与未命中计数。
  - 存储指标：查询耗时。
*/
package metrics
