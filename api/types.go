package api

import (
	"time"

	"github.com/BaSui01/agentrelay/router"
)

// =============================================================================
// 会话请求类型
// =============================================================================

// ChatRequest 代表一轮用户输入。
// @Description 转发请求结构
type ChatRequest struct {
	// 用户输入
	Query string `json:"query" example:"I want to launch a new FX product"`
	// 透传给 Agent 的输入变量
	Inputs map[string]string `json:"inputs,omitempty"`
	// 显式指定本轮的目标 Agent
	TargetAgent string `json:"target_agent,omitempty" example:"IDEATION"`
	// 上游用户标识
	User string `json:"user,omitempty" example:"user-1"`
}

// ReturnRequest 代表显式返回上一个 Agent。
// @Description 返回请求结构
type ReturnRequest struct {
	// 转移原因，默认 return
	Reason string `json:"reason,omitempty" example:"user_back"`
}

// ReturnResponse 是 Return 的结果。
// @Description 返回结果结构
type ReturnResponse struct {
	// 路由决策
	Decision router.Decision `json:"decision"`
	// 当前活跃 Agent
	ActiveAgentID string `json:"active_agent_id" example:"MASTER_COO"`
	// 委派栈深度
	StackDepth int `json:"stack_depth" example:"0"`
}

// CancelResponse 是 Cancel 的结果。
// @Description 取消结果结构
type CancelResponse struct {
	// 是否存在在途请求
	Cancelled bool `json:"cancelled" example:"true"`
}

// StateResponse 是会话状态快照。
// @Description 会话状态结构
type StateResponse struct {
	// 会话 ID
	SessionID string `json:"session_id" example:"sess-1"`
	// 快照
	Snapshot router.Snapshot `json:"snapshot"`
}

// =============================================================================
// Agent 目录类型
// =============================================================================

// AgentInfo 代表目录中的一个 Agent，不含密钥。
// @Description Agent 信息
type AgentInfo struct {
	// 逻辑 ID
	ID string `json:"id" example:"MASTER_COO"`
	// 展示名称
	Name string `json:"name" example:"Master COO"`
	// chat 或 workflow
	Kind string `json:"kind" example:"chat"`
	// 层级
	Tier int `json:"tier" example:"1"`
	// 是否配置了密钥
	Configured bool `json:"configured" example:"true"`
}

// AgentListResponse 代表 Agent 目录。
// @Description Agent 目录响应
type AgentListResponse struct {
	// Agent 列表
	Agents []AgentInfo `json:"agents"`
	// 总数
	Total int `json:"total" example:"13"`
	// 已配置数量
	Configured int `json:"configured" example:"11"`
}

// =============================================================================
// WebSocket 消息类型
// =============================================================================

// 客户端消息类型
const (
	StreamMessageChat   = "chat"
	StreamMessageCancel = "cancel"
	StreamMessageReturn = "return"
)

// StreamMessage 是 WebSocket 客户端发送的消息。
// @Description WebSocket 客户端消息
type StreamMessage struct {
	// chat、cancel 或 return
	Type string `json:"type" example:"chat"`
	// chat 消息的输入
	ChatRequest
	// return 消息的原因
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorResponse表示错误响应。
// @Description 错误响应结构
type ErrorResponse struct {
	// 错误详情
	Error ErrorDetail `json:"error"`
	// 时间戳
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail 表示错误详细信息。
// @Description 错误详细结构
type ErrorDetail struct {
	// 错误代码
	Code string `json:"code" example:"SESSION_BUSY"`
	// 人类可读的错误消息
	Message string `json:"message" example:"session already has a request in flight"`
	// HTTP 状态码
	HTTPStatus int `json:"http_status,omitempty" example:"409"`
	// 请求是否可以重试
	Retryable bool `json:"retryable,omitempty" example:"true"`
	// 返回错误的 Agent
	Agent string `json:"agent,omitempty" example:"IDEATION"`
}
