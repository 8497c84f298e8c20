// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 evaluation 实现网页智能体任务的多证据评判流水线。

# 概述

给定任务描述、按时间排序的截图与可选的动作/思考日志，流水线依次：

 1. 关键点提取（KeyPointExtractor）：一次推理调用，把任务描述拆成显式要求清单。
 2. 证据评审（EvidenceJudge）：对每张截图并发调用一次推理模型，解析 1–5 分与理由。
 3. 证据过滤（FilterEvidence）：保留得分不低于阈值的记录，最多 50 条，保持原始顺序。
 4. 结论合成（VerdictSynthesizer）：把关键点、动作历史与保留证据拼成一次推理调用。
 5. 标签解析（ExtractLabel）：从结论文本的 "status:" 之后判断 success / failure。

单张截图的解码或调用失败只降级该条记录（0 分并记录错误），不会中断其余评审；
关键点与结论阶段的失败会以 EVALUATION_FAILED 返回，不会返回部分结果。

# 核心类型

  - Evaluator：驱动单次评测的状态机（SUBMITTED → ... → COMPLETE）。
  - BatchEvaluator：按 worker 切分任务列表，worker 之间无共享可变状态。
  - ResultStore：可选的评测结果持久化接口。
*/
package evaluation
