// Package tokenizer 提供 token 计数，用于在发送前约束提示词长度。
//
// [Tiktoken] 按模型选择 tiktoken 编码，编码表在后台加载；加载完成前或加载失败时
// [Fallback] 退回 [Estimator] 的字符估算。
package tokenizer
