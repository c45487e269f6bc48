// =============================================================================
// 📦 WaveFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/big3labs/waveflow/workflow"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Runner:     DefaultRunnerConfig(),
		Retry:      DefaultRetryConfig(),
		Dispatcher: DefaultDispatcherConfig(),
		Sandbox:    DefaultSandboxConfig(),
		Browser:    DefaultBrowserConfig(),
		Store:      DefaultStoreConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// DefaultRunnerConfig 返回默认执行配置
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Mode:          "parallel",
		FailurePolicy: "batch",
		HistoryLimit:  workflow.DefaultHistoryLimit,
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Backoff:    "exponential",
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// DefaultDispatcherConfig 返回默认分发配置（不限流，熔断关闭）
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:           false,
			FailureThreshold:  5,
			RecoveryTimeout:   30 * time.Second,
			HalfOpenMaxProbes: 1,
			SuccessThreshold:  2,
		},
	}
}

// DefaultSandboxConfig 返回默认沙箱配置
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Mode:           "docker",
		Timeout:        60 * time.Second,
		MaxOutputBytes: 1024 * 1024,
		WorkspaceRoot:  filepath.Join(os.TempDir(), "waveflow", "sessions"),
		Image:          "alpine:3.20",
		MaxMemoryMB:    512,
		MaxCPUPercent:  50,
		BlockDangerous: true,
	}
}

// DefaultBrowserConfig 返回默认浏览器配置
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:        true,
		Timeout:         30 * time.Second,
		ViewportWidth:   1920,
		ViewportHeight:  1080,
		ScreenshotDir:   "screenshots",
		MaxContentChars: 50000,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      "memory",
		KeyPrefix: "waveflow:",
		TTL:       7 * 24 * time.Hour,
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
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "waveflow",
		Password:        "",
		Name:            "waveflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "waveflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Namespace: "waveflow"}
}
