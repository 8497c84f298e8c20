// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供评测 HTTP 服务的生命周期管理：非阻塞启动、优雅关闭与
异步错误传播。

# 核心类型

  - Manager：封装 net/http.Server 与 net.Listener，提供 Start、
    Shutdown、Wait 等生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与
    优雅关闭超时。评测接口同步返回，写超时需覆盖一次完整评测。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内排空进行中的评测请求。
  - 等待退出：Wait 在 ctx 结束（通常来自 signal.NotifyContext）或
    服务异常退出时触发关闭。
  - 地址查询：Addr 在启动后返回实际监听地址，便于使用 :0 端口。
*/
package server
