package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/big3labs/waveflow/agent/browser"
	"github.com/big3labs/waveflow/agent/execution"
	"github.com/big3labs/waveflow/config"
	"github.com/big3labs/waveflow/internal/metrics"
	"github.com/big3labs/waveflow/internal/telemetry"
	"github.com/big3labs/waveflow/persistence"
	"github.com/big3labs/waveflow/workflow"
)

// app 持有一次进程生命周期内共享的组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	providers *telemetry.Providers
	registry  *prometheus.Registry
	collector *metrics.Collector

	executor *execution.CommandExecutor
	browser  *browser.ChromeAutomation
	store    persistence.ResultStore

	runner    *workflow.Runner
	validator *workflow.Validator
}

// loadConfig 加载配置文件与环境变量，应用命令行覆盖后再校验
func loadConfig(path string, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.NewLoader().WithConfigPath(path).Load()
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp 按配置组装运行所需的全部组件
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.providers = providers

	a.registry = prometheus.NewRegistry()
	a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)

	sandbox := cfg.Sandbox.Execution()
	backend, err := execution.NewBackend(sandbox, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create sandbox backend: %w", err)
	}
	a.executor = execution.NewCommandExecutor(sandbox, backend, logger)
	if sandbox.Mode == execution.ModeDocker || sandbox.Mode == "" {
		// 镜像缺失时首个 command_agent 步骤会在 docker run 里拉取，这里提前做并只告警
		pullCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := execution.PullImage(pullCtx, sandbox.Image, logger); err != nil {
			logger.Warn("sandbox image unavailable", zap.String("image", sandbox.Image), zap.Error(err))
		}
		cancel()
	}
	a.browser = browser.NewChromeAutomation(cfg.Browser.Automation(), logger)

	store, err := persistence.NewResultStore(cfg.ResultStore())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open result store: %w", err)
	}
	a.store = store

	tracer := providers.Tracer("github.com/big3labs/waveflow")
	dispatcherOpts := []workflow.DispatcherOption{
		workflow.WithDispatcherLogger(logger),
		workflow.WithDispatcherTracer(tracer),
		workflow.WithRateLimit(cfg.Dispatcher.RateLimitRPS, cfg.Dispatcher.RateLimitBurst),
	}
	if cfg.Dispatcher.CircuitBreaker.Enabled {
		registry := workflow.NewCircuitBreakerRegistry(cfg.Dispatcher.CircuitBreaker.Breaker(), a.collector, logger)
		dispatcherOpts = append(dispatcherOpts, workflow.WithCircuitBreakers(registry))
	}
	dispatcher, err := workflow.NewDispatcher(a.executor, a.browser, dispatcherOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	runnerOpts := append(cfg.Runner.Options(),
		workflow.WithLogger(logger),
		workflow.WithRetryPolicy(cfg.Retry.Policy()),
		workflow.WithMetrics(a.collector),
		workflow.WithStore(a.store),
		workflow.WithTracer(tracer),
	)
	a.runner = workflow.NewRunner(dispatcher, runnerOpts...)
	a.validator = workflow.NewValidator(nil, logger).WithMetrics(a.collector)

	return a, nil
}

// runPlan 加载计划、执行、校验并输出结果，返回退出码
func (a *app) runPlan(ctx context.Context, opts runOptions, stdout, stderr io.Writer) int {
	def, err := workflow.LoadPlanDefinition(opts.planPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsageError
	}
	plan, _, err := def.BuildPlan()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsageError
	}

	a.logger.Info("plan loaded",
		zap.String("name", def.Name),
		zap.String("plan_id", plan.ID),
		zap.Int("steps", len(plan.Steps)),
		zap.Int("batches", len(plan.Batches)),
	)

	result, runErr := a.runner.Run(ctx, plan, a.cfg.Runner.RunMode())
	if result == nil {
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return exitFailed
	}

	if hist, ok := a.runner.History(plan.ID); ok {
		a.logger.Info("run history",
			zap.String("plan_id", plan.ID),
			zap.String("status", string(hist.GetStatus())),
			zap.Int("attempts", len(hist.GetAttempts())),
		)
	}

	code := exitOK
	if runErr != nil {
		fmt.Fprintf(stderr, "Run stopped: %v\n", runErr)
		code = exitFailed
	}
	if err := a.validator.Check(result); err != nil {
		a.collector.RecordValidation(false)
		fmt.Fprintf(stderr, "Validation failed: %v\n", err)
		code = exitFailed
	} else {
		a.collector.RecordValidation(true)
	}

	if err := writeResult(result, opts.out, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		code = exitFailed
	}
	a.exportMetrics()
	return code
}

// exportMetrics 写入 textfile collector 使用的指标文件
func (a *app) exportMetrics() {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
		a.logger.Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}

// Close 释放所有外部资源
func (a *app) Close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("browser close failed", zap.Error(err))
		}
	}
	if a.executor != nil {
		if err := a.executor.Cleanup(); err != nil {
			a.logger.Warn("sandbox cleanup failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("result store close failed", zap.Error(err))
		}
	}
	if a.providers != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.providers.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}

// writeResult 输出结果 JSON，path 为空时写到 w
func writeResult(result *workflow.WorkflowResult, path string, w io.Writer) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// readResult 读取 run 命令写出的结果文件
func readResult(path string) (*workflow.WorkflowResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	var result workflow.WorkflowResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse result %s: %w", path, err)
	}
	return &result, nil
}
