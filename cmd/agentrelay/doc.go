// Copyright (c) AgentRelay Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentRelay 服务端程序入口。

# 概述

cmd/agentrelay 是 AgentRelay 的可执行入口，提供 HTTP/WebSocket 转发服务、
会话存储迁移、回答解析、健康检查和版本查询等子命令。程序支持 YAML
配置文件加载、结构化日志（zap）、Prometheus 指标、OpenTelemetry 追踪
以及 Agent 目录热重载。

# 核心类型

  - Server      — 主服务器，组装会话存储、Agent 目录、上游客户端与 Relay
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、inspect、version、health
  - 中间件链：Recovery、RequestID、Tracing、SecurityHeaders、RequestLogger、
    MetricsMiddleware、CORS、RateLimiter（基于 IP）
  - 后台任务：上游 Agent 健康巡检、配置文件变更时替换 Agent 目录
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus），端口为 0 时关闭
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 停止后台任务 → 关闭存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
