package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/big3labs/waveflow/internal/database"
	"github.com/big3labs/waveflow/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func migrateCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: waveflow migrate <up|down|status|version> [options]")
		return exitUsageError
	}

	sub := args[0]
	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file (YAML)")
	steps := fs.Int("steps", 1, "Number of migrations to roll back ('down' only)")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsageError
	}

	switch sub {
	case "up", "status", "version":
	case "down":
		if *steps < 1 {
			fmt.Fprintln(stderr, "Error: --steps must be at least 1")
			return exitUsageError
		}
	default:
		fmt.Fprintf(stderr, "Unknown migrate command: %s\n", sub)
		return exitUsageError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsageError
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	dbType, err := migration.ParseDatabaseType(cfg.Database.Driver)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsageError
	}

	pool, err := database.Open(cfg.Database.Connection(), logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("database close failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	m, err := migration.NewMigrator(ctx, pool.SQLDB(), dbType, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("migrator close failed", zap.Error(err))
		}
	}()

	switch sub {
	case "up":
		err = m.Up(ctx)
	case "down":
		err = m.Steps(ctx, -*steps)
	case "status":
		statuses, serr := m.Status(ctx)
		if serr != nil {
			fmt.Fprintf(stderr, "Error: %v\n", serr)
			return exitFailed
		}
		printMigrationStatus(stdout, statuses)
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	info, err := m.Info(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	if sub != "version" {
		logger.Info("migration finished",
			zap.String("command", sub),
			zap.Uint("version", info.CurrentVersion),
		)
	}
	fmt.Fprintf(stdout, "version %d (dirty: %t), %d/%d applied\n",
		info.CurrentVersion, info.Dirty, info.AppliedMigrations, info.TotalMigrations)
	return exitOK
}

func printMigrationStatus(w io.Writer, statuses []migration.MigrationStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED\tDIRTY")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%06d\t%s\t%t\t%t\n", s.Version, s.Name, s.Applied, s.Dirty)
	}
	_ = tw.Flush()
}
