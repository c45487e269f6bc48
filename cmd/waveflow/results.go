package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/big3labs/waveflow/persistence"
	"github.com/big3labs/waveflow/workflow"
)

// =============================================================================
// ✅ validate 命令
// =============================================================================

func validateCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	resultPath := fs.String("result", "", "Result JSON written by 'run'")
	planID := fs.String("id", "", "Plan id to load from the configured store")
	configPath := fs.String("config", "", "Path to configuration file (YAML)")

	if err := fs.Parse(args); err != nil {
		return exitUsageError
	}
	if (*resultPath == "") == (*planID == "") {
		fmt.Fprintln(stderr, "Error: exactly one of --result or --id is required")
		return exitUsageError
	}

	var result *workflow.WorkflowResult
	if *resultPath != "" {
		r, err := readResult(*resultPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsageError
		}
		result = r
	} else {
		store, logger, err := openStore(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsageError
		}
		defer closeStore(store, logger)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r, err := store.Get(ctx, *planID)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailed
		}
		result = r
	}

	if err := workflow.NewValidator(nil, nil).Check(result); err != nil {
		fmt.Fprintf(stdout, "FAIL %s: %v\n", result.PlanID, err)
		return exitFailed
	}
	fmt.Fprintf(stdout, "PASS %s\n", result.PlanID)
	return exitOK
}

// =============================================================================
// 📚 results 命令
// =============================================================================

func resultsCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: waveflow results <list|show|delete> [options]")
		return exitUsageError
	}

	fs := flag.NewFlagSet("results "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file (YAML)")
	limit := fs.Int("limit", 20, "Maximum number of results to list (0 = all)")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsageError
	}

	sub := args[0]
	var planID string
	switch sub {
	case "list":
	case "show", "delete":
		if fs.NArg() != 1 {
			fmt.Fprintf(stderr, "Usage: waveflow results %s <plan-id>\n", sub)
			return exitUsageError
		}
		planID = fs.Arg(0)
	default:
		fmt.Fprintf(stderr, "Unknown results command: %s\n", sub)
		return exitUsageError
	}

	store, logger, err := openStore(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsageError
	}
	defer closeStore(store, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch sub {
	case "list":
		results, err := store.List(ctx, *limit)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailed
		}
		printResults(stdout, results)
	case "show":
		result, err := store.Get(ctx, planID)
		if err != nil {
			return reportStoreError(stderr, planID, err)
		}
		if err := writeResult(result, "", stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailed
		}
	case "delete":
		if err := store.Delete(ctx, planID); err != nil {
			return reportStoreError(stderr, planID, err)
		}
		fmt.Fprintf(stdout, "Deleted %s\n", planID)
	}
	return exitOK
}

func printResults(w io.Writer, results []*workflow.WorkflowResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN ID\tOUTCOME\tCOMPLETED\tFAILED\tFINISHED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			r.PlanID, r.Outcome(), len(r.CompletedNodes), len(r.FailedNodes),
			r.FinishedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func reportStoreError(stderr io.Writer, planID string, err error) int {
	if errors.Is(err, persistence.ErrNotFound) {
		fmt.Fprintf(stderr, "Error: no result for plan %s\n", planID)
	} else {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitFailed
}

// openStore 只打开结果存储，不启动执行组件
func openStore(configPath string) (persistence.ResultStore, *zap.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := initLogger(cfg.Log)
	if cfg.Store.Type == string(persistence.StoreTypeMemory) {
		logger.Warn("memory result store does not outlive the process, configure redis or database to keep results")
	}
	store, err := persistence.NewResultStore(cfg.ResultStore())
	if err != nil {
		return nil, nil, fmt.Errorf("open result store: %w", err)
	}
	return store, logger, nil
}

func closeStore(store persistence.ResultStore, logger *zap.Logger) {
	if err := store.Close(); err != nil {
		logger.Warn("result store close failed", zap.Error(err))
	}
	_ = logger.Sync()
}
