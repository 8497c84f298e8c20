/*
包 llm 提供推理模型接入层的公共契约：Provider 抽象、多模态消息与统一错误语义。

# 概述

本包屏蔽模型服务商在接口与错误语义上的差异，对上层（reasoning 客户端、
评估流水线）暴露一致的请求与响应模型。

# 核心类型

  - [Provider]：LLM 提供者接口，提供 Completion / Name
  - [Message] / [ContentPart]：支持文本与 image_url 片段的对话消息
  - [ChatRequest] / [ChatResponse]：聊天补全请求与响应
  - [Error] / [ErrorCode]：带可重试标记的 Provider 错误

子包：

  - providers：OpenAI 兼容线协议类型与 HTTP 错误映射
  - providers/openaicompat：OpenAI 兼容 Chat Completions 客户端
  - retry：指数退避重试器
  - cache：本地 LRU + Redis 两级响应缓存
  - multimodal：图片解码、规范化与 data URI 编码
  - reasoning：带重试、限流、缓存的推理调用唯一出口
  - tokenizer：tiktoken 计数与字符估算，用于约束提示词长度
*/
package llm
