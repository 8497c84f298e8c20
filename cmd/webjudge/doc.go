// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 WebJudge 的命令行入口。

# 概述

cmd/webjudge 把评测流水线包装成 HTTP 服务与离线命令。配置来自 YAML 文件、
WEBJUDGE_ 前缀环境变量以及 OPENAI_API_KEY 等通用变量，启动时会尝试读取 .env。

# 子命令

  - serve    启动 HTTP 服务，暴露评测、结果查询、健康检查与 /metrics
  - evaluate 读取单个请求 JSON，输出评测结果
  - batch    读取请求数组，按 worker 数分块并发评测，输出逐项结果与汇总
  - version  输出构建信息

evaluate 与 batch 带 --strict 时，任一任务判定失败或出错即以退出码 1 结束；
配置或运行错误使用退出码 2。未配置 judge.reference_image_dir 时，
请求中的 input_image_paths 相对输入文件所在目录解析。

# 中间件链

Recovery → RequestID → OTelTracing → SecurityHeaders → RequestLogger →
MetricsMiddleware → CORS → RateLimiter。

CORS 配置了 allowed_origins_regex 时只按正则整串匹配，否则按列表精确匹配；
不被允许的预检请求返回 400。
*/
package main
