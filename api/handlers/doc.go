// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 WebJudge HTTP API 的请求处理器。

# 核心类型

  - EvaluationHandler  评测提交与结果查询
  - HealthHandler      存活、就绪与版本信息
  - Response           统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo          结构化错误信息，含 code、message、details、retryable
  - ResponseWriter     包装 http.ResponseWriter 以记录状态码与字节数
  - HealthCheck        可插拔就绪检查（数据库、Redis）

# 错误映射

  - INVALID_REQUEST、IMAGE_DECODE         → 400
  - RATE_LIMITED                          → 429
  - REASONING_CALL、EVALUATION_FAILED     → 502
  - UPSTREAM_TIMEOUT                      → 504
  - 其它未识别错误                         → 500

请求体通过 DecodeJSONBodyLimit 解码：超出上限返回 413，未知字段视为错误。
*/
package handlers
