// Package api 描述 WebJudge 对外暴露的 HTTP 接口。
//
// # 路由
//
//	POST /v1/runs/evaluate_task          评测一个任务，成功时直接返回评测结果
//	GET  /v1/runs/{task_id}/evaluation   查询已持久化的评测结果（需启用数据库）
//	GET  /v1/health                      存活检查
//	GET  /v1/ready                       就绪检查（数据库、Redis）
//	GET  /v1/version                     构建信息
//	GET  /metrics                        Prometheus 指标
//
// # 错误格式
//
// 失败响应统一为：
//
//	{"success":false,"error":{"code":"INVALID_REQUEST","message":"...","retryable":false},
//	 "timestamp":"...","request_id":"..."}
//
// 错误码与状态码的对应关系见 handlers 包。
//
// # 请求体
//
// 未知字段会被忽略。input_image_paths 只能指向 judge.reference_image_dir
// 下的普通文件；未配置该目录、路径越界或文件超过 judge.max_reference_bytes
// 时返回 400 INVALID_REQUEST。
//
// # 鉴权
//
// 服务本身不做鉴权，部署时由网关负责。
package api
