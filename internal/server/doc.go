// 版权所有 2024 AgentRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
连接数限制与基于 context 的优雅关闭。

# 核心类型

  - Manager：封装 net/http.Server 与 net.Listener，提供
    Start/Shutdown/Wait 生命周期方法。API 与 metrics 两个监听各持有一个。
  - Config：监听地址、读写超时、空闲超时、最大请求头、
    最大并发连接数与优雅关闭超时。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 连接限制：MaxConnections > 0 时使用 netutil.LimitListener。
  - 优雅关闭：Wait 在 ctx 结束（通常来自 signal.NotifyContext）或服务异常时
    触发 Shutdown，在配置的超时内排空请求。
*/
package server
