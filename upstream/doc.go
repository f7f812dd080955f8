// 版权所有 2024 AgentRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
Package upstream 封装托管 Agent 平台的 HTTP 接口。

# 组成

  - Catalog：运行时 Agent 目录，配置热重载时整体替换
  - Client：流式对话、流式工作流、会话历史查询与轻量探活
  - Monitor：按固定周期并发探测全部已配置 Agent 的健康状态

# 错误映射

Client 的所有失败都以 *types.Error 返回：缺少 API Key 为
AGENT_NOT_CONFIGURED，上游 4xx/5xx 经 types.FromHTTPStatus 映射，
网络错误映射为 UPSTREAM_ERROR 或 UPSTREAM_TIMEOUT，调用方取消为 CANCELLED。

流式调用返回原始响应体，由 stream 包解析，调用方负责关闭。
*/
package upstream
