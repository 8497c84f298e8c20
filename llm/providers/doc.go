/*
# 概述

包 providers 提供 OpenAI 兼容线协议的公共基础层：请求/响应结构体、
多模态消息转换与 HTTP 错误映射。openaicompat 子包在此之上实现具体的
Chat Completions 客户端。

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - ReadErrorMessage：读取错误响应体，优先解析 JSON error.message
  - ConvertMessagesToOpenAI：llm.Message 转为 OpenAI 消息（文本或片段数组）
  - ToLLMChatResponse：OpenAI 响应转为 llm.ChatResponse
*/
package providers
