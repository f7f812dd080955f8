package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentrelay/upstream"
)

// readyTimeout 就绪检查整体超时
const readyTimeout = 5 * time.Second

// 健康状态
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status        string                 `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	UptimeSeconds int64                  `json:"uptime_seconds,omitempty"`
	Checks        map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status    string `json:"status"` // "pass", "fail"
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Advisory  bool   `json:"advisory,omitempty"`
}

type registeredCheck struct {
	check    HealthCheck
	advisory bool
}

// HealthHandler 提供存活与就绪探针。关键检查失败返回 503；
// 建议性检查失败只把状态降为 degraded。
type HealthHandler struct {
	logger  *zap.Logger
	started time.Time

	mu     sync.RWMutex
	checks []registeredCheck
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		started: time.Now(),
	}
}

// RegisterCheck 注册关键检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.register(check, false)
}

// RegisterAdvisoryCheck 注册建议性检查
func (h *HealthHandler) RegisterAdvisoryCheck(check HealthCheck) {
	h.register(check, true)
}

func (h *HealthHandler) register(check HealthCheck, advisory bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{check: check, advisory: advisory})
}

func (h *HealthHandler) snapshot() []registeredCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]registeredCheck, len(h.checks))
	copy(out, h.checks)
	return out
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求
// @Summary 健康检查
// @Description 进程存活即返回 healthy，附带运行时长
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:        StatusHealthy,
		Timestamp:     time.Now(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 活跃度探针）
// @Summary Kubernetes 活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now()})
}

// HandleReady 处理 /ready 或 /readyz 请求，所有检查并发执行
// @Summary 就绪检查
// @Description 会话存储不可用时返回 503；上游 Agent 全部不健康时状态为 degraded
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已就绪（healthy 或 degraded）"
// @Failure 503 {object} HealthStatus "服务尚未就绪"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := h.snapshot()
	results := make([]CheckResult, len(checks))

	var g errgroup.Group
	for i, rc := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, rc)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, rc := range checks {
		res := results[i]
		status.Checks[rc.check.Name()] = res
		if res.Status == "pass" {
			continue
		}
		if rc.advisory {
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
			continue
		}
		status.Status = StatusUnhealthy
	}

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) run(ctx context.Context, rc registeredCheck) CheckResult {
	start := time.Now()
	err := rc.check.Check(ctx)
	latency := time.Since(start)

	res := CheckResult{Status: "pass", LatencyMs: latency.Milliseconds(), Advisory: rc.advisory}
	if err != nil {
		res.Status = "fail"
		res.Message = err.Error()
		h.logger.Warn("health check failed",
			zap.String("check", rc.check.Name()),
			zap.Bool("advisory", rc.advisory),
			zap.Duration("latency", latency),
			zap.Error(err))
	}
	return res
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} Response "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 把任意 ping 函数包装为健康检查，用于会话存储
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建 ping 健康检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// AgentReport 提供 Agent 健康汇总
type AgentReport interface {
	Report() upstream.Report
}

// UpstreamHealthCheck 所有已配置 Agent 均不健康时判定失败
type UpstreamHealthCheck struct {
	source AgentReport
}

// NewUpstreamHealthCheck 创建上游健康检查
func NewUpstreamHealthCheck(source AgentReport) *UpstreamHealthCheck {
	return &UpstreamHealthCheck{source: source}
}

func (c *UpstreamHealthCheck) Name() string { return "upstream" }

func (c *UpstreamHealthCheck) Check(ctx context.Context) error {
	sum := c.source.Report().Summary
	configured := sum.Total - sum.Unconfigured
	// 尚未探测过
	if sum.LastCheck == nil || configured == 0 {
		return nil
	}
	if sum.Unhealthy >= configured {
		return fmt.Errorf("all %d configured agents are unhealthy", configured)
	}
	return nil
}
