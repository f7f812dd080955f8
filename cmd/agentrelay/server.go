package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay"
	"github.com/BaSui01/agentrelay/api/handlers"
	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/metrics"
	"github.com/BaSui01/agentrelay/internal/server"
	"github.com/BaSui01/agentrelay/internal/sessionstore"
	"github.com/BaSui01/agentrelay/internal/telemetry"
	"github.com/BaSui01/agentrelay/relay"
	"github.com/BaSui01/agentrelay/upstream"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 AgentRelay 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	telemetry  *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 领域组件
	store   sessionstore.Store
	catalog *upstream.Catalog
	client  *upstream.Client
	monitor *upstream.Monitor
	relay   *relay.Relay

	// Handlers
	healthHandler *handlers.HealthHandler
	relayHandler  *handlers.RelayHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 配置重载
	reloader *config.Reloader

	// 后台任务生命周期
	background context.CancelFunc
	wg         sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		telemetry:  otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.background = cancel

	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("agentrelay", s.logger)

	// 2. 初始化领域组件
	if err := s.initRelay(ctx); err != nil {
		return fmt.Errorf("failed to init relay: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 后台任务：健康巡检、配置重载
	s.startBackground(bgCtx)

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("agents", s.catalog.Len()),
		zap.Bool("config_reload", s.reloader != nil),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initRelay 初始化会话存储、Agent 目录、上游客户端与 Relay
func (s *Server) initRelay(ctx context.Context) error {
	stack, err := agentrelay.Build(ctx, s.cfg,
		agentrelay.WithLogger(s.logger),
		agentrelay.WithMetrics(s.metricsCollector),
	)
	if err != nil {
		return err
	}
	s.store = stack.Store
	s.catalog = stack.Catalog
	s.client = stack.Client
	s.relay = stack.Relay

	if s.cfg.HealthMonitor.Enabled {
		s.monitor = upstream.NewMonitor(s.catalog, s.client, s.cfg.HealthMonitor, s.logger)
		s.monitor.OnResult(func(h upstream.AgentHealth) {
			var latency time.Duration
			if h.LatencyMs != nil {
				latency = time.Duration(*h.LatencyMs) * time.Millisecond
			}
			s.metricsCollector.RecordAgentProbe(h.AgentID, string(h.Status), !h.Status.Unhealthy(), latency)
		})
	}

	configured := 0
	for _, a := range s.catalog.All() {
		if a.Configured() {
			configured++
		}
	}
	s.logger.Info("Relay initialized",
		zap.String("session_store", relay.ConfigFrom(s.cfg).StoreBackend),
		zap.String("root_agent", stack.Router.Root()),
		zap.Int("agents", s.catalog.Len()),
		zap.Int("configured", configured),
	)
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("session_store", s.store.Ping))

	var health handlers.AgentReport
	if s.monitor != nil {
		health = s.monitor
		s.healthHandler.RegisterAdvisoryCheck(handlers.NewUpstreamHealthCheck(s.monitor))
	}
	s.relayHandler = handlers.NewRelayHandler(s.relay, s.catalog, s.client, health, s.logger)

	s.logger.Info("Handlers initialized")
}

// startBackground 启动健康巡检与配置重载
func (s *Server) startBackground(ctx context.Context) {
	if s.monitor != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.monitor.Run(ctx)
		}()
	}

	if s.configPath == "" {
		return
	}
	s.reloader = config.NewReloader(s.configPath, s.cfg,
		config.WithReloaderLogger(s.logger),
	)
	// 仅 Agent 目录支持热更新，其余配置需重启
	s.reloader.OnReload(func(_, next *config.Config) {
		if err := next.Validate(); err != nil {
			s.logger.Warn("reloaded config is invalid, agent catalog unchanged", zap.Error(err))
			return
		}
		rotated := s.catalog.Replace(next.Agents)
		s.logger.Info("agent catalog reloaded",
			zap.Int("agents", s.catalog.Len()),
			zap.Strings("rotated", rotated))
	})
	if err := s.reloader.Start(ctx); err != nil {
		s.logger.Warn("config reloader not started", zap.Error(err))
		s.reloader = nil
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	s.relayHandler.Register(mux)
	s.logger.Info("Relay API routes registered")

	// ========================================
	// 构建中间件链
	// ========================================
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		Tracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		MaxConnections:  s.cfg.Server.MaxConnections,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager("api", handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.ListenAddr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器，端口为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.ListenAddr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞到 ctx 结束或 API 服务异常退出，随后优雅关闭所有组件
func (s *Server) Wait(ctx context.Context) error {
	var err error
	if s.httpManager != nil {
		err = s.httpManager.Wait(ctx)
	}
	return errors.Join(err, s.Shutdown())
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() error {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error

	// 1. 关闭 HTTP 服务器，在途轮次随连接结束
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}

	// 3. 停止后台任务
	if s.reloader != nil {
		s.reloader.Stop()
	}
	if s.background != nil {
		s.background()
	}
	s.wg.Wait()

	// 4. 关闭会话存储
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session store: %w", err))
		}
	}

	// 5. 刷新遥测数据
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logger.Error("Graceful shutdown finished with errors", zap.Error(err))
		return err
	}
	s.logger.Info("Graceful shutdown completed")
	return nil
}
