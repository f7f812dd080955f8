// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 转发轮次指标
	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	handoffsTotal *prometheus.CounterVec
	envelopes     *prometheus.CounterVec
	streamErrors  *prometheus.CounterVec
	activeTurns   prometheus.Gauge

	// Agent 健康指标
	agentUp       *prometheus.GaugeVec
	agentProbes   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	// 会话存储指标
	storeOpsTotal   *prometheus.CounterVec
	storeOpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器，注册到指定 registry
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 转发轮次指标
	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_turns_total",
			Help:      "Total number of relayed turns",
		},
		[]string{"agent_id", "kind", "outcome"}, // outcome: ok, degraded, error, cancelled
	)

	c.turnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_turn_duration_seconds",
			Help:      "Relayed turn duration in seconds, stream drained",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent_id", "kind"},
	)

	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_handoffs_total",
			Help:      "Total number of active agent changes",
		},
		[]string{"from_agent", "to_agent", "reason"},
	)

	c.envelopes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_envelopes_total",
			Help:      "Total number of parsed routing envelopes",
		},
		[]string{"action", "convention", "known"},
	)

	c.streamErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_stream_errors_total",
			Help:      "Total number of in-band agent stream errors",
		},
		[]string{"agent_id", "code"},
	)

	c.activeTurns = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_active_turns",
			Help:      "Number of turns currently streaming",
		},
	)

	// Agent 健康指标
	c.agentUp = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_up",
			Help:      "Whether the last probe of the agent succeeded (1) or not (0)",
		},
		[]string{"agent_id"},
	)

	c.agentProbes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_probes_total",
			Help:      "Total number of agent health probes",
		},
		[]string{"agent_id", "status"},
	)

	c.probeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_probe_duration_seconds",
			Help:      "Agent health probe latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"agent_id"},
	)

	// 会话存储指标
	c.storeOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_store_operations_total",
			Help:      "Total number of session store operations",
		},
		[]string{"backend", "operation", "status"}, // status: ok, miss, error
	)

	c.storeOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_store_operation_duration_seconds",
			Help:      "Session store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔀 转发指标记录
// =============================================================================

// TurnStarted 标记一个流式轮次开始，返回的函数在轮次结束时调用
func (c *Collector) TurnStarted() func() {
	c.activeTurns.Inc()
	return c.activeTurns.Dec
}

// RecordTurn 记录一次完整的转发轮次
func (c *Collector) RecordTurn(agentID, kind, outcome string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(agentID, kind, outcome).Inc()
	c.turnDuration.WithLabelValues(agentID, kind).Observe(duration.Seconds())
}

// RecordHandoff 记录活跃 Agent 变更
func (c *Collector) RecordHandoff(from, to, reason string) {
	c.handoffsTotal.WithLabelValues(from, to, reason).Inc()
}

// RecordEnvelope 记录一次路由信封解析
func (c *Collector) RecordEnvelope(action, convention string, known bool) {
	k := "false"
	if known {
		k = "true"
	}
	c.envelopes.WithLabelValues(action, convention, k).Inc()
}

// RecordStreamError 记录流内错误
func (c *Collector) RecordStreamError(agentID, code string) {
	c.streamErrors.WithLabelValues(agentID, code).Inc()
}

// =============================================================================
// 🏥 健康指标记录
// =============================================================================

// RecordAgentProbe 记录一次健康探测
func (c *Collector) RecordAgentProbe(agentID, status string, up bool, latency time.Duration) {
	v := 0.0
	if up {
		v = 1
	}
	c.agentUp.WithLabelValues(agentID).Set(v)
	c.agentProbes.WithLabelValues(agentID, status).Inc()
	c.probeDuration.WithLabelValues(agentID).Observe(latency.Seconds())
}

// =============================================================================
// 💾 会话存储指标记录
// =============================================================================

// RecordStoreOperation 记录会话存储操作
func (c *Collector) RecordStoreOperation(backend, operation, status string, duration time.Duration) {
	c.storeOpsTotal.WithLabelValues(backend, operation, status).Inc()
	c.storeOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
