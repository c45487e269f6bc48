package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/big3labs/waveflow/config"
)

type runOptions struct {
	planPath       string
	configPath     string
	mode           string
	maxConcurrency int
	out            string
	watch          bool
}

// =============================================================================
// 🚀 run 命令
// =============================================================================

func runCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts runOptions
	fs.StringVar(&opts.planPath, "plan", "", "Path to plan definition (YAML or JSON)")
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file (YAML)")
	fs.StringVar(&opts.mode, "mode", "", "Run mode: sequential or parallel")
	fs.IntVar(&opts.maxConcurrency, "max-concurrency", 0, "Per-batch concurrency limit (0 = unlimited)")
	fs.StringVar(&opts.out, "out", "", "Write the result JSON to this file")
	fs.BoolVar(&opts.watch, "watch", false, "Re-run whenever the plan file changes")

	if err := fs.Parse(args); err != nil {
		return exitUsageError
	}
	if opts.planPath == "" {
		fmt.Fprintln(stderr, "Error: --plan is required")
		return exitUsageError
	}

	cfg, err := loadConfig(opts.configPath, func(c *config.Config) {
		if opts.mode != "" {
			c.Runner.Mode = opts.mode
		}
		if opts.maxConcurrency > 0 {
			c.Runner.MaxConcurrency = opts.maxConcurrency
		}
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsageError
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsageError
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := a.runPlan(ctx, opts, stdout, stderr)
	if !opts.watch {
		return code
	}
	return a.watchPlan(ctx, opts, stdout, stderr)
}

// watchPlan 在计划文件变化时重新执行，直到 ctx 被取消
func (a *app) watchPlan(ctx context.Context, opts runOptions, stdout, stderr io.Writer) int {
	watcher, err := config.NewFileWatcher([]string{opts.planPath}, config.WithWatcherLogger(a.logger))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsageError
	}

	trigger := make(chan struct{}, 1)
	watcher.OnChange(func(event config.FileEvent) {
		if event.Op == config.FileOpRemove {
			a.logger.Warn("plan file removed, waiting for it to reappear", zap.String("path", event.Path))
			return
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	})

	a.logger.Info("watching plan for changes", zap.String("path", opts.planPath))

	code := exitOK
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-trigger:
				a.logger.Info("plan changed, re-running", zap.String("path", opts.planPath))
				code = a.runPlan(gctx, opts, stdout, stderr)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	return code
}
