// =============================================================================
// WaveFlow 主入口
// =============================================================================
// 加载计划文件，按批次执行并校验结果
//
// 使用方法:
//
//	waveflow run --plan plan.yaml                  # 执行计划
//	waveflow run --plan plan.yaml --watch          # 计划文件变更后重新执行
//	waveflow validate --result result.json         # 重新校验保存的结果
//	waveflow results list                          # 查看存储中的结果
//	waveflow migrate up                            # 迁移结果表到最新版本
//	waveflow version                               # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitOK         = 0
	exitFailed     = 1 // 运行出错或校验未通过
	exitUsageError = 2 // 参数、配置或计划文件错误
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsageError
	}

	switch args[0] {
	case "run":
		return runCommand(args[1:], stdout, stderr)
	case "validate":
		return validateCommand(args[1:], stdout, stderr)
	case "results":
		return resultsCommand(args[1:], stdout, stderr)
	case "migrate":
		return migrateCommand(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return exitUsageError
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "WaveFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `WaveFlow - dependency-aware multi-agent plan runner

Usage:
  waveflow <command> [options]

Commands:
  run       Execute a plan file and validate the result
  validate  Validate a saved result
  results   List, show or delete stored results
  migrate   Apply or roll back result-table schema migrations
  version   Show version information
  help      Show this help message

Options for 'run':
  --plan <path>            Plan definition (YAML or JSON), required
  --config <path>          Configuration file (YAML)
  --mode <mode>            sequential or parallel (overrides runner.mode)
  --max-concurrency <n>    Per-batch concurrency limit (overrides runner.max_concurrency)
  --out <path>             Write the result JSON to a file instead of stdout
  --watch                  Re-run whenever the plan file changes

Options for 'validate':
  --result <path>          Result JSON written by 'run'
  --id <plan-id>           Load the result from the configured store instead
  --config <path>          Configuration file (YAML)

Results subcommands:
  results list [--config path] [--limit n]
  results show [--config path] <plan-id>
  results delete [--config path] <plan-id>

Migrate subcommands (use the database section of the config):
  migrate up [--config path]
  migrate down [--config path] [--steps n]
  migrate status [--config path]
  migrate version [--config path]

Examples:
  waveflow run --plan plan.yaml
  waveflow run --plan plan.yaml --mode sequential --out result.json
  waveflow validate --result result.json
  waveflow results list --config waveflow.yaml --limit 10
  waveflow migrate up --config waveflow.yaml`)
}
