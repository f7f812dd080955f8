// 版权所有 2024 AgentRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
包 metrics 提供基于 Prometheus 的转发服务指标采集。

# 概述

Collector 通过 promauto 注册全部向量指标，按 namespace 隔离。
NewCollector 注册到默认 registry，由 /metrics 端口暴露；
NewCollectorWithRegistry 供测试或嵌入方使用独立 registry。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 转发指标：轮次总数与耗时（按 agent_id/kind/outcome）、活跃轮次 Gauge、
    Agent 切换、信封解析动作、流内错误。
  - 健康指标：agent_up Gauge、探测次数（按状态）、探测延迟。
  - 会话存储指标：按 backend/operation 统计操作次数与耗时。
*/
package metrics
