/*
Package types 提供 WebJudge 全局共享的结构化错误定义。

types 是最底层的公共包，不依赖任何内部包。llm、agent/evaluation、api 等上层
模块通过 Error / ErrorCode 传递可分类的失败：

  - IMAGE_DECODE      ：图片载荷无法解码（单张截图范围内的降级错误）
  - REASONING_CALL    ：推理模型调用在重试耗尽后仍失败
  - EVALUATION_FAILED ：非扇出阶段（关键点提取 / 最终裁决）失败，整个评估失败
  - INVALID_REQUEST   ：评估请求不合法
  - INVALID_TRANSITION：评估状态机出现跳步
*/
package types
