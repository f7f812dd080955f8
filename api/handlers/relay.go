package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/ctxkeys"
	"github.com/BaSui01/agentrelay/relay"
	"github.com/BaSui01/agentrelay/router"
	"github.com/BaSui01/agentrelay/types"
	"github.com/BaSui01/agentrelay/upstream"
)

// =============================================================================
// 🔀 Relay Handler
// =============================================================================

// SessionRelay 是 Handler 使用的会话操作集合
type SessionRelay interface {
	ChatStream(ctx context.Context, sessionID string, in relay.Input, emit func(relay.Event)) (*relay.Result, error)
	Return(ctx context.Context, sessionID, reason string) (router.Decision, router.State, error)
	Cancel(sessionID string) bool
	Export(ctx context.Context, sessionID string) (router.Snapshot, error)
	Import(ctx context.Context, sessionID string, snap router.Snapshot) (router.State, error)
	Reset(ctx context.Context, sessionID string) error
}

// HistoryFetcher 拉取上游会话历史
type HistoryFetcher interface {
	Messages(ctx context.Context, agent config.AgentConfig, conversationID, user string, limit int) (json.RawMessage, error)
}

// RelayHandler 会话转发处理器
type RelayHandler struct {
	relay   SessionRelay
	catalog *upstream.Catalog
	history HistoryFetcher
	health  AgentReport
	logger  *zap.Logger
}

// NewRelayHandler 创建会话转发处理器，history 与 health 可为 nil
func NewRelayHandler(r SessionRelay, catalog *upstream.Catalog, history HistoryFetcher, health AgentReport, logger *zap.Logger) *RelayHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayHandler{
		relay:   r,
		catalog: catalog,
		history: history,
		health:  health,
		logger:  logger.With(zap.String("handler", "relay")),
	}
}

// Register 在 mux 上注册全部会话路由
func (h *RelayHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/relay/sessions/{id}/chat", h.HandleChat)
	mux.HandleFunc("POST /api/relay/sessions/{id}/return", h.HandleReturn)
	mux.HandleFunc("POST /api/relay/sessions/{id}/cancel", h.HandleCancel)
	mux.HandleFunc("GET /api/relay/sessions/{id}/state", h.HandleGetState)
	mux.HandleFunc("PUT /api/relay/sessions/{id}/state", h.HandlePutState)
	mux.HandleFunc("DELETE /api/relay/sessions/{id}/state", h.HandleDeleteState)
	mux.HandleFunc("GET /api/relay/sessions/{id}/stream", h.HandleStream)
	mux.HandleFunc("GET /api/relay/agents", h.HandleListAgents)
	mux.HandleFunc("GET /api/relay/agents/health", h.HandleAgentsHealth)
	mux.HandleFunc("GET /api/relay/agents/{agent}/conversations/{cid}/messages", h.HandleMessages)
}

// HandleChat 处理一轮对话
// @Summary 转发一轮对话
// @Description 将用户输入转发给会话当前的活跃 Agent 并应用路由决策
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param request body api.ChatRequest true "对话输入"
// @Success 200 {object} Response{data=relay.Result} "转发结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 409 {object} Response "会话忙"
// @Failure 502 {object} Response "上游错误"
// @Router /api/relay/sessions/{id}/chat [post]
func (h *RelayHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	sessionID := r.PathValue("id")
	ctx := ctxkeys.WithSessionID(r.Context(), sessionID)
	if req.User != "" {
		ctx = ctxkeys.WithUserID(ctx, req.User)
	}

	res, err := h.relay.ChatStream(ctx, sessionID, toInput(req), nil)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	writeSuccess(w, r, res)
}

// HandleReturn 显式返回上一个 Agent
// @Summary 返回上一个 Agent
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param request body api.ReturnRequest false "返回原因"
// @Success 200 {object} Response{data=api.ReturnResponse} "路由决策"
// @Failure 404 {object} Response "会话不存在"
// @Router /api/relay/sessions/{id}/return [post]
func (h *RelayHandler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	var req api.ReturnRequest
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	dec, st, err := h.relay.Return(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	writeSuccess(w, r, api.ReturnResponse{
		Decision:      dec,
		ActiveAgentID: st.ActiveAgentID,
		StackDepth:    st.Depth(),
	})
}

// HandleCancel 取消会话的在途请求
// @Summary 取消在途请求
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response{data=api.CancelResponse} "是否存在在途请求"
// @Router /api/relay/sessions/{id}/cancel [post]
func (h *RelayHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	cancelled := h.relay.Cancel(sessionID)
	h.logger.Info("cancel requested",
		zap.String("session_id", sessionID),
		zap.Bool("cancelled", cancelled))
	writeSuccess(w, r, api.CancelResponse{Cancelled: cancelled})
}

// HandleGetState 导出会话状态
// @Summary 导出会话状态
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response{data=api.StateResponse} "会话快照"
// @Failure 404 {object} Response "会话不存在"
// @Router /api/relay/sessions/{id}/state [get]
func (h *RelayHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	snap, err := h.relay.Export(r.Context(), sessionID)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	writeSuccess(w, r, api.StateResponse{SessionID: sessionID, Snapshot: snap})
}

// HandlePutState 导入会话状态
// @Summary 导入会话状态
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param request body router.Snapshot true "会话快照"
// @Success 200 {object} Response{data=api.StateResponse} "导入后的快照"
// @Failure 400 {object} Response "快照无效"
// @Router /api/relay/sessions/{id}/state [put]
func (h *RelayHandler) HandlePutState(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var snap router.Snapshot
	if err := DecodeJSONBody(w, r, &snap, h.logger); err != nil {
		return
	}

	sessionID := r.PathValue("id")
	if _, err := h.relay.Import(r.Context(), sessionID, snap); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	out, err := h.relay.Export(r.Context(), sessionID)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	writeSuccess(w, r, api.StateResponse{SessionID: sessionID, Snapshot: out})
}

// HandleDeleteState 重置会话
// @Summary 重置会话
// @Tags 会话
// @Param id path string true "会话 ID"
// @Success 204 "已删除"
// @Router /api/relay/sessions/{id}/state [delete]
func (h *RelayHandler) HandleDeleteState(w http.ResponseWriter, r *http.Request) {
	if err := h.relay.Reset(r.Context(), r.PathValue("id")); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListAgents 列出 Agent 目录
// @Summary 列出 Agent
// @Tags Agent
// @Produce json
// @Success 200 {object} Response{data=api.AgentListResponse} "Agent 目录"
// @Router /api/relay/agents [get]
func (h *RelayHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.catalog.All()
	resp := api.AgentListResponse{
		Agents: make([]api.AgentInfo, 0, len(agents)),
		Total:  len(agents),
	}
	for _, a := range agents {
		if a.Configured() {
			resp.Configured++
		}
		resp.Agents = append(resp.Agents, api.AgentInfo{
			ID:         a.ID,
			Name:       a.Name,
			Kind:       a.Kind,
			Tier:       a.Tier,
			Configured: a.Configured(),
		})
	}
	writeSuccess(w, r, resp)
}

// HandleAgentsHealth 返回最近一次探测结果
// @Summary Agent 健康状态
// @Tags Agent
// @Produce json
// @Success 200 {object} Response{data=upstream.Report} "健康报告"
// @Failure 503 {object} Response "未启用健康监控"
// @Router /api/relay/agents/health [get]
func (h *RelayHandler) HandleAgentsHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable,
			"health monitor is disabled", h.logger)
		return
	}
	writeSuccess(w, r, h.health.Report())
}

// HandleMessages 拉取 Agent 的上游会话历史
// @Summary 会话历史
// @Tags Agent
// @Produce json
// @Param agent path string true "Agent ID"
// @Param cid path string true "上游会话 ID"
// @Param user query string false "上游用户标识"
// @Param limit query int false "条数上限"
// @Success 200 {object} Response "上游原始历史"
// @Failure 404 {object} Response "Agent 不存在"
// @Router /api/relay/agents/{agent}/conversations/{cid}/messages [get]
func (h *RelayHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable,
			"conversation history is unavailable", h.logger)
		return
	}

	agentID := r.PathValue("agent")
	agent, ok := h.catalog.Get(agentID)
	if !ok {
		WriteError(w, types.NewError(types.ErrAgentNotFound, "unknown agent "+agentID).
			WithAgent(agentID).WithHTTPStatus(http.StatusNotFound), h.logger)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	raw, err := h.history.Messages(r.Context(), agent, r.PathValue("cid"), r.URL.Query().Get("user"), limit)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	writeSuccess(w, r, raw)
}

func toInput(req api.ChatRequest) relay.Input {
	return relay.Input{
		Query:               req.Query,
		Inputs:              req.Inputs,
		ExplicitTargetAgent: req.TargetAgent,
		User:                req.User,
	}
}
