// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 WebJudge 的配置加载与校验。
//
// 配置来源依次为默认值、YAML 文件、通用环境变量（OPENAI_API_KEY、
// OPENAI_MODEL、ALLOWED_ORIGINS 等）与 WEBJUDGE_ 前缀环境变量，
// 后者覆盖前者。评测阶段读取的阈值与证据上限在评测开始时固定。
package config
