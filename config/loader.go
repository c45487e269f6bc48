// =============================================================================
// 📦 WaveFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("waveflow.yaml").
//	    WithEnvPrefix("WAVEFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
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

// Config 是 WaveFlow 的完整配置结构
type Config struct {
	// Runner 计划执行配置
	Runner RunnerConfig `yaml:"runner" env:"RUNNER"`

	// Retry 步骤重试配置
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Dispatcher 工具分发配置
	Dispatcher DispatcherConfig `yaml:"dispatcher" env:"DISPATCHER"`

	// Sandbox command_agent 执行沙箱
	Sandbox SandboxConfig `yaml:"sandbox" env:"SANDBOX"`

	// Browser browser_use 浏览器配置
	Browser BrowserConfig `yaml:"browser" env:"BROWSER"`

	// Store 结果存储配置
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Redis 配置（store.type=redis 时使用）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置（store.type=database 时使用）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// RunnerConfig 计划执行配置
type RunnerConfig struct {
	// 执行模式: sequential, parallel
	Mode string `yaml:"mode" env:"MODE"`
	// 单批次最大并发数，0 表示不限
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 批次失败策略: batch, step
	FailurePolicy string `yaml:"failure_policy" env:"FAILURE_POLICY"`
	// 单步超时，0 表示不限
	StepTimeout time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
	// 内存中保留的最近运行历史数
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 退避策略: fixed, exponential
	Backoff    string        `yaml:"backoff" env:"BACKOFF"`
	MaxDelay   time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter     bool          `yaml:"jitter" env:"JITTER"`
}

// DispatcherConfig 工具分发配置
type DispatcherConfig struct {
	// 全局限流，0 表示关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 按工具类型熔断
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	FailureThreshold  int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	HalfOpenMaxProbes int           `yaml:"half_open_max_probes" env:"HALF_OPEN_MAX_PROBES"`
	SuccessThreshold  int           `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
}

// SandboxConfig 命令执行沙箱配置
type SandboxConfig struct {
	// 后端: docker, native
	Mode           string        `yaml:"mode" env:"MODE"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxOutputBytes int           `yaml:"max_output_bytes" env:"MAX_OUTPUT_BYTES"`
	// 会话工作目录的根目录
	WorkspaceRoot  string `yaml:"workspace_root" env:"WORKSPACE_ROOT"`
	Image          string `yaml:"image" env:"IMAGE"`
	NetworkEnabled bool   `yaml:"network_enabled" env:"NETWORK_ENABLED"`
	MaxMemoryMB    int    `yaml:"max_memory_mb" env:"MAX_MEMORY_MB"`
	MaxCPUPercent  int    `yaml:"max_cpu_percent" env:"MAX_CPU_PERCENT"`
	BlockDangerous bool   `yaml:"block_dangerous" env:"BLOCK_DANGEROUS"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless        bool          `yaml:"headless" env:"HEADLESS"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ViewportWidth   int           `yaml:"viewport_width" env:"VIEWPORT_WIDTH"`
	ViewportHeight  int           `yaml:"viewport_height" env:"VIEWPORT_HEIGHT"`
	UserAgent       string        `yaml:"user_agent" env:"USER_AGENT"`
	ProxyURL        string        `yaml:"proxy_url" env:"PROXY_URL"`
	ScreenshotDir   string        `yaml:"screenshot_dir" env:"SCREENSHOT_DIR"`
	MaxContentChars int           `yaml:"max_content_chars" env:"MAX_CONTENT_CHARS"`
}

// StoreConfig 结果存储配置
type StoreConfig struct {
	// 类型: memory, redis, database
	Type      string        `yaml:"type" env:"TYPE"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
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
	// 数据库名，sqlite 时为文件路径
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
	// OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 运行结束后写入 Prometheus 文本格式（node_exporter textfile collector），为空则不写
	Textfile string `yaml:"textfile" env:"TEXTFILE"`
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
		envPrefix:  "WAVEFLOW",
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

// setFieldsFromEnv 递归设置结构体字段，键名为 PREFIX_SECTION_FIELD
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

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
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
