// =============================================================================
// 📦 AgentRelay 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:        DefaultServerConfig(),
		Upstream:      DefaultUpstreamConfig(),
		Agents:        DefaultAgents(),
		Routing:       DefaultRoutingConfig(),
		SessionStore:  DefaultSessionStoreConfig(),
		Redis:         DefaultRedisConfig(),
		Database:      DefaultDatabaseConfig(),
		Mongo:         DefaultMongoConfig(),
		Log:           DefaultLogConfig(),
		Telemetry:     DefaultTelemetryConfig(),
		HealthMonitor: DefaultHealthMonitorConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    3 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		MaxConnections:  1024,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultUpstreamConfig 返回默认上游配置
func DefaultUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		BaseURL:             "http://localhost/v1",
		Timeout:             2 * time.Minute,
		HeaderTimeout:       30 * time.Second,
		MaxIdleConnsPerHost: 20,
		DefaultUser:         "default-user",
		RequestsPerSecond:   20,
		Burst:               40,
		HistoryLimit:        20,
	}
}

// DefaultAgents 返回默认 Agent 目录，密钥均为空
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		// Tier 1 — 战略指挥
		{ID: "MASTER_COO", Name: "Master COO Orchestrator", Kind: AgentKindChat, Tier: 1},
		// Tier 2 — 领域编排
		{ID: "NPA_ORCHESTRATOR", Name: "NPA Domain Orchestrator", Kind: AgentKindChat, Tier: 2},
		// Tier 3 — 专家
		{ID: "IDEATION", Name: "Ideation Agent", Kind: AgentKindChat, Tier: 3},
		{ID: "CLASSIFIER", Name: "Classification Agent", Kind: AgentKindWorkflow, Tier: 3},
		{ID: "AUTOFILL", Name: "Template AutoFill Agent", Kind: AgentKindWorkflow, Tier: 3},
		{ID: "ML_PREDICT", Name: "ML Prediction Agent", Kind: AgentKindWorkflow, Tier: 3},
		{ID: "RISK", Name: "Risk Agent", Kind: AgentKindWorkflow, Tier: 3},
		{ID: "GOVERNANCE", Name: "Governance Agent", Kind: AgentKindWorkflow, Tier: 3},
		{ID: "DILIGENCE", Name: "Conversational Diligence Agent", Kind: AgentKindChat, Tier: 3},
		{ID: "DOC_LIFECYCLE", Name: "Document Lifecycle Agent", Kind: AgentKindWorkflow, Tier: 3},
		{ID: "MONITORING", Name: "Post-Launch Monitoring Agent", Kind: AgentKindWorkflow, Tier: 3},
		// Tier 4 — 共享工具
		{ID: "KB_SEARCH", Name: "KB Search Agent", Kind: AgentKindChat, Tier: 4},
		{ID: "NOTIFICATION", Name: "Notification Agent", Kind: AgentKindWorkflow, Tier: 4},
	}
}

// DefaultRoutingConfig 返回默认路由配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		RootAgent: "MASTER_COO",
		Aliases: map[string]string{
			"COO":      "MASTER_COO",
			"NPA_ORCH": "NPA_ORCHESTRATOR",
		},
		Domains: map[string]string{
			"NPA": "NPA_ORCHESTRATOR",
		},
		RestrictToCatalog: true,
	}
}

// DefaultSessionStoreConfig 返回默认会话存储配置
func DefaultSessionStoreConfig() SessionStoreConfig {
	return SessionStoreConfig{
		Type:      StoreMemory,
		TTL:       24 * time.Hour,
		KeyPrefix: "agentrelay:session:",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "agentrelay",
		Password:        "",
		Name:            "agentrelay",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "",
		Database:   "agentrelay",
		Collection: "router_sessions",
		Timeout:    5 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentrelay",
		SampleRate:   0.1,
	}
}

// DefaultHealthMonitorConfig 返回默认巡检配置
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		Enabled:         true,
		Interval:        5 * time.Minute,
		InitialDelay:    5 * time.Second,
		Timeout:         10 * time.Second,
		DegradedLatency: 5 * time.Second,
	}
}
