// Copyright (c) AgentRelay Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentRelay 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 stream、envelope、router、
upstream、relay 与 api 等上层模块提供统一的错误契约与 Context 传播工具。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Agent 标记
  - FromHTTPStatus    — 上游 HTTP 状态码到结构化错误的映射

# 主要能力

  - Context 传播：WithTraceID / WithSessionID / WithAgentID / WithUserID
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
*/
package types
