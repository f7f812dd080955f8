// =============================================================================
// 📦 AgentRelay 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTRELAY").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// Agent 密钥单独覆盖: AGENTRELAY_AGENT_KEY_<AGENT_ID>
// =============================================================================
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentRelay 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Upstream Agent 平台配置
	Upstream UpstreamConfig `yaml:"upstream" env:"UPSTREAM"`

	// Agents Agent 目录，密钥通过 AGENT_KEY_<ID> 覆盖
	Agents []AgentConfig `yaml:"agents" env:"-"`

	// Routing 委派路由配置
	Routing RoutingConfig `yaml:"routing" env:"ROUTING"`

	// SessionStore 会话状态存储
	SessionStore SessionStoreConfig `yaml:"session_store" env:"SESSION_STORE"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo MongoDB 配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// HealthMonitor Agent 健康巡检
	HealthMonitor HealthMonitorConfig `yaml:"health_monitor" env:"HEALTH_MONITOR"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，需覆盖一次完整的流式调用
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 最大并发连接数，0 表示不限制
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	// 每 IP 每秒请求数
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源，空表示不设置
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// UpstreamConfig 上游 Agent 平台配置
type UpstreamConfig struct {
	// API 根地址，例如 http://localhost/v1
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 单次流式调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 等待响应头的超时，0 表示不限
	HeaderTimeout time.Duration `yaml:"header_timeout" env:"HEADER_TIMEOUT"`
	// 每个上游主机保留的空闲连接数
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host" env:"MAX_IDLE_CONNS_PER_HOST"`
	// 未指定时的默认用户标识
	DefaultUser string `yaml:"default_user" env:"DEFAULT_USER"`
	// 每秒请求数，0 表示不限
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// 突发请求数
	Burst int `yaml:"burst" env:"BURST"`
	// 会话历史默认条数
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
}

// Agent 调用类型
const (
	AgentKindChat     = "chat"
	AgentKindWorkflow = "workflow"
)

// AgentConfig 单个上游 Agent
type AgentConfig struct {
	// 逻辑 ID，例如 MASTER_COO
	ID string `yaml:"id"`
	// 展示名称
	Name string `yaml:"name"`
	// chat 或 workflow
	Kind string `yaml:"kind"`
	// 层级 1-4
	Tier int `yaml:"tier"`
	// Bearer 密钥
	APIKey string `yaml:"api_key"`
	// 工作流主结果字段，默认 result
	ResultField string `yaml:"result_field"`
}

// Configured 返回是否配置了密钥
func (a AgentConfig) Configured() bool {
	return a.APIKey != ""
}

// IsWorkflow 返回是否按工作流调用
func (a AgentConfig) IsWorkflow() bool {
	return a.Kind == AgentKindWorkflow
}

// RoutingConfig 委派路由配置
type RoutingConfig struct {
	// 根 Agent，Return 在空栈时回到这里
	RootAgent string `yaml:"root_agent" env:"ROOT_AGENT"`
	// 上游 ID → 逻辑 ID
	Aliases map[string]string `yaml:"aliases" env:"ALIASES"`
	// 领域 ID → Agent
	Domains map[string]string `yaml:"domains" env:"DOMAINS"`
	// 仅允许委派到目录内的 Agent
	RestrictToCatalog bool `yaml:"restrict_to_catalog" env:"RESTRICT_TO_CATALOG"`
	// 从自然语言回答中猜测移交（尽力而为）
	SniffDelegation bool `yaml:"sniff_delegation" env:"SNIFF_DELEGATION"`
	// 切换后把上一轮回答转发给新 Agent
	ForwardContext bool `yaml:"forward_context" env:"FORWARD_CONTEXT"`
	// FINALIZE_DRAFT 带 target_agent 时自动返回上一个 Agent
	ReturnOnFinalize bool `yaml:"return_on_finalize" env:"RETURN_ON_FINALIZE"`
}

// 会话存储类型
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreDatabase = "database"
	StoreMongo    = "mongo"
)

// SessionStoreConfig 会话状态存储配置
type SessionStoreConfig struct {
	// memory, redis, database, mongo
	Type string `yaml:"type" env:"TYPE"`
	// 过期时间，0 表示永不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 下为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接串
	URI string `yaml:"uri" env:"URI"`
	// 数据库
	Database string `yaml:"database" env:"DATABASE"`
	// 集合
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 单次操作超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// HealthMonitorConfig Agent 健康巡检配置
type HealthMonitorConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 巡检间隔
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 启动后首次巡检延迟
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 单次探测超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 超过该延迟视为 DEGRADED
	DegradedLatency time.Duration `yaml:"degraded_latency" env:"DEGRADED_LATENCY"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTRELAY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	l.loadAgentKeys(cfg)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// loadAgentKeys 用 <PREFIX>_AGENT_KEY_<ID> 覆盖 Agent 密钥
func (l *Loader) loadAgentKeys(cfg *Config) {
	for i := range cfg.Agents {
		key := AgentKeyEnv(l.envPrefix, cfg.Agents[i].ID)
		if v := os.Getenv(key); v != "" {
			cfg.Agents[i].APIKey = v
		}
	}
}

// AgentKeyEnv 返回 Agent 密钥对应的环境变量名
func AgentKeyEnv(prefix, agentID string) string {
	id := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(agentID))
	return prefix + "_AGENT_KEY_" + id
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}

	case reflect.Map:
		// 支持 k1=v1,k2=v2 形式的 map[string]string
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		m := make(map[string]string)
		for _, pair := range strings.Split(value, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid map entry %q", pair)
			}
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(m))
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Agent 按 ID 查找 Agent
func (c *Config) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "upstream.base_url must be an absolute URL")
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, "upstream.timeout must be positive")
	}
	if c.Upstream.RequestsPerSecond < 0 {
		errs = append(errs, "upstream.requests_per_second must not be negative")
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		switch {
		case a.ID == "":
			errs = append(errs, "agent id must not be empty")
		case seen[a.ID]:
			errs = append(errs, fmt.Sprintf("duplicate agent %s", a.ID))
		}
		seen[a.ID] = true
		if a.Kind != AgentKindChat && a.Kind != AgentKindWorkflow {
			errs = append(errs, fmt.Sprintf("agent %s: kind must be chat or workflow", a.ID))
		}
	}

	if c.Routing.RootAgent == "" {
		errs = append(errs, "routing.root_agent must not be empty")
	} else if !seen[c.Routing.RootAgent] {
		errs = append(errs, fmt.Sprintf("routing.root_agent %s is not in the agent catalog", c.Routing.RootAgent))
	}
	for domain, target := range c.Routing.Domains {
		if !seen[target] {
			errs = append(errs, fmt.Sprintf("routing.domains[%s] points to unknown agent %s", domain, target))
		}
	}

	switch c.SessionStore.Type {
	case StoreMemory, StoreRedis, StoreDatabase, StoreMongo:
	default:
		errs = append(errs, fmt.Sprintf("unknown session_store.type %q", c.SessionStore.Type))
	}
	if c.SessionStore.Type == StoreMongo && c.Mongo.URI == "" {
		errs = append(errs, "mongo.uri is required for the mongo session store")
	}

	if c.HealthMonitor.Enabled && c.HealthMonitor.Interval <= 0 {
		errs = append(errs, "health_monitor.interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
