// Copyright (c) AgentRelay Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentRelay HTTP API 的请求处理器实现。

# 概述

handlers 包实现了会话转发、状态导入导出、Agent 目录与健康检查的
HTTP 端点，以及统一的响应/错误处理。所有 Handler 均遵循标准
net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - RelayHandler     — 会话对话、返回、取消、状态与 Agent 目录
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、agent、retryable
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码，支持 WebSocket 升级
  - HealthCheck      — 可插拔健康检查接口（会话存储、上游 Agent）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - WebSocket 会话流：HandleStream 推送采集事件、交接与结果
  - 可扩展健康检查：RegisterCheck 注册 PingCheck、UpstreamHealthCheck
*/
package handlers
