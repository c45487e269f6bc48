package config

import (
	"fmt"
	"strings"

	"github.com/big3labs/waveflow/agent/browser"
	"github.com/big3labs/waveflow/agent/execution"
	"github.com/big3labs/waveflow/internal/database"
	"github.com/big3labs/waveflow/persistence"
	"github.com/big3labs/waveflow/retry"
	"github.com/big3labs/waveflow/workflow"
)

// RunMode 返回执行模式
func (c RunnerConfig) RunMode() workflow.Mode {
	return workflow.Mode(c.Mode)
}

// Options 转换为 Runner 选项
func (c RunnerConfig) Options() []workflow.RunnerOption {
	return []workflow.RunnerOption{
		workflow.WithMaxConcurrency(c.MaxConcurrency),
		workflow.WithFailurePolicy(workflow.FailurePolicy(c.FailurePolicy)),
		workflow.WithStepTimeout(c.StepTimeout),
		workflow.WithHistoryLimit(c.HistoryLimit),
	}
}

// Policy 转换为重试策略
func (c RetryConfig) Policy() *retry.RetryPolicy {
	return &retry.RetryPolicy{
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay,
		Backoff:    retry.Backoff(c.Backoff),
		MaxDelay:   c.MaxDelay,
		Multiplier: c.Multiplier,
		Jitter:     c.Jitter,
	}
}

// Breaker 转换为熔断器配置
func (c CircuitBreakerConfig) Breaker() workflow.CircuitBreakerConfig {
	return workflow.CircuitBreakerConfig{
		FailureThreshold:  c.FailureThreshold,
		RecoveryTimeout:   c.RecoveryTimeout,
		HalfOpenMaxProbes: c.HalfOpenMaxProbes,
		SuccessThreshold:  c.SuccessThreshold,
	}
}

// Execution 转换为执行器沙箱配置
func (c SandboxConfig) Execution() execution.SandboxConfig {
	return execution.SandboxConfig{
		Mode:           execution.SandboxMode(c.Mode),
		Timeout:        c.Timeout,
		MaxOutputBytes: c.MaxOutputBytes,
		WorkspaceRoot:  c.WorkspaceRoot,
		Image:          c.Image,
		NetworkEnabled: c.NetworkEnabled,
		MaxMemoryMB:    c.MaxMemoryMB,
		MaxCPUPercent:  c.MaxCPUPercent,
		BlockDangerous: c.BlockDangerous,
	}
}

// Automation 转换为浏览器配置
func (c BrowserConfig) Automation() browser.BrowserConfig {
	return browser.BrowserConfig{
		Headless:        c.Headless,
		Timeout:         c.Timeout,
		ViewportWidth:   c.ViewportWidth,
		ViewportHeight:  c.ViewportHeight,
		UserAgent:       c.UserAgent,
		ProxyURL:        c.ProxyURL,
		ScreenshotDir:   c.ScreenshotDir,
		MaxContentChars: c.MaxContentChars,
	}
}

// Connection 转换为数据库连接配置
func (c DatabaseConfig) Connection() database.Config {
	pool := database.DefaultPoolConfig()
	if c.MaxOpenConns > 0 {
		pool.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		pool.MaxIdleConns = c.MaxIdleConns
	}
	if c.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = c.ConnMaxLifetime
	}
	return database.Config{
		Driver:   c.Driver,
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
		SSLMode:  c.SSLMode,
		Pool:     pool,
	}
}

// ResultStore 组合 store、redis、database 三节为结果存储配置
func (c *Config) ResultStore() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type:      persistence.StoreType(c.Store.Type),
		KeyPrefix: c.Store.KeyPrefix,
		TTL:       c.Store.TTL,
		Redis: persistence.RedisConfig{
			Addr:         c.Redis.Addr,
			Password:     c.Redis.Password,
			DB:           c.Redis.DB,
			PoolSize:     c.Redis.PoolSize,
			MinIdleConns: c.Redis.MinIdleConns,
		},
		Database: c.Database.Connection(),
	}
}

// Validate 验证配置，一次性汇总所有问题
func (c *Config) Validate() error {
	var errs []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}

	// runner
	check(oneOf(c.Runner.Mode, "sequential", "parallel"), "runner.mode must be sequential or parallel, got %q", c.Runner.Mode)
	check(c.Runner.MaxConcurrency >= 0, "runner.max_concurrency must not be negative")
	check(oneOf(c.Runner.FailurePolicy, "batch", "step"), "runner.failure_policy must be batch or step, got %q", c.Runner.FailurePolicy)
	check(c.Runner.StepTimeout >= 0, "runner.step_timeout must not be negative")
	check(c.Runner.HistoryLimit >= 0, "runner.history_limit must not be negative")

	// retry
	check(c.Retry.MaxRetries >= 0, "retry.max_retries must not be negative")
	check(c.Retry.RetryDelay >= 0, "retry.retry_delay must not be negative")
	check(oneOf(c.Retry.Backoff, "fixed", "exponential"), "retry.backoff must be fixed or exponential, got %q", c.Retry.Backoff)
	if c.Retry.Backoff == "exponential" {
		check(c.Retry.Multiplier >= 1, "retry.multiplier must be at least 1")
	}

	// dispatcher
	check(c.Dispatcher.RateLimitRPS >= 0, "dispatcher.rate_limit_rps must not be negative")
	check(c.Dispatcher.RateLimitBurst >= 0, "dispatcher.rate_limit_burst must not be negative")
	if cb := c.Dispatcher.CircuitBreaker; cb.Enabled {
		check(cb.FailureThreshold > 0, "dispatcher.circuit_breaker.failure_threshold must be positive")
		check(cb.RecoveryTimeout > 0, "dispatcher.circuit_breaker.recovery_timeout must be positive")
		check(cb.HalfOpenMaxProbes > 0, "dispatcher.circuit_breaker.half_open_max_probes must be positive")
		check(cb.SuccessThreshold > 0, "dispatcher.circuit_breaker.success_threshold must be positive")
	}

	// sandbox
	check(oneOf(c.Sandbox.Mode, "docker", "native"), "sandbox.mode must be docker or native, got %q", c.Sandbox.Mode)
	check(c.Sandbox.Timeout > 0, "sandbox.timeout must be positive")
	check(c.Sandbox.MaxOutputBytes > 0, "sandbox.max_output_bytes must be positive")
	check(c.Sandbox.WorkspaceRoot != "", "sandbox.workspace_root is required")

	// browser
	check(c.Browser.Timeout > 0, "browser.timeout must be positive")
	check(c.Browser.ViewportWidth > 0 && c.Browser.ViewportHeight > 0, "browser viewport must be positive")

	// store
	check(oneOf(c.Store.Type, "memory", "redis", "database"), "store.type must be memory, redis or database, got %q", c.Store.Type)
	check(c.Store.TTL >= 0, "store.ttl must not be negative")
	switch c.Store.Type {
	case "redis":
		check(c.Redis.Addr != "", "redis.addr is required when store.type is redis")
	case "database":
		check(oneOf(c.Database.Driver, "postgres", "mysql", "sqlite"), "database.driver must be postgres, mysql or sqlite, got %q", c.Database.Driver)
		check(c.Database.Name != "", "database.name is required when store.type is database")
	}

	// log / telemetry
	check(oneOf(c.Log.Level, "debug", "info", "warn", "error"), "log.level must be debug, info, warn or error, got %q", c.Log.Level)
	check(oneOf(c.Log.Format, "json", "console"), "log.format must be json or console, got %q", c.Log.Format)
	check(c.Telemetry.SampleRate >= 0 && c.Telemetry.SampleRate <= 1, "telemetry.sample_rate must be between 0 and 1")
	if c.Telemetry.Enabled {
		check(c.Telemetry.OTLPEndpoint != "", "telemetry.otlp_endpoint is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
