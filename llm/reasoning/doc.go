// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 reasoning 提供评测流水线访问推理模型的唯一出口。

Client 在每次调用上依次执行：响应缓存查询（仅温度为 0 时）、速率限制、
带单次超时的指数退避重试、缓存写入与指标记录。重试耗尽或遇到不可重试
错误时返回 REASONING_CALL 错误，绝不返回默认答案。

Client 无调用级可变状态，可被证据评审阶段并发使用。
*/
package reasoning
