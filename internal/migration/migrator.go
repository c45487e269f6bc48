package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations
var migrationsFS embed.FS

// TableName 记录迁移版本的表
const TableName = "schema_migrations"

// DatabaseType 数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// ParseDatabaseType 解析方言名，兼容常见别名
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %q", s)
	}
}

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 当前迁移状态摘要
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Migrator 封装 golang-migrate 实例，不拥有传入的 *sql.DB
type Migrator struct {
	dbType  DatabaseType
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator 在已打开的连接池上创建迁移器
func NewMigrator(ctx context.Context, db *sql.DB, dbType DatabaseType, logger *zap.Logger) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	src, err := iofs.New(migrationsFS, migrationsDir(dbType))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s migrations: %w", dbType, err)
	}

	drv, err := newDatabaseDriver(ctx, db, dbType)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("failed to create %s migration driver: %w", dbType, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dbType), drv)
	if err != nil {
		_ = src.Close()
		_ = drv.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{logger: logger}

	return &Migrator{
		dbType:  dbType,
		migrate: m,
		logger:  logger.With(zap.String("component", "migration"), zap.String("dialect", string(dbType))),
	}, nil
}

// newDatabaseDriver postgres/mysql 借用池里的一个连接，Close 时归还；sqlite 直接用池
func newDatabaseDriver(ctx context.Context, db *sql.DB, dbType DatabaseType) (database.Driver, error) {
	switch dbType {
	case DatabaseTypePostgres:
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		drv, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: TableName})
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return drv, nil
	case DatabaseTypeMySQL:
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		drv, err := mysql.WithConnection(ctx, conn, &mysql.Config{MigrationsTable: TableName})
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return drv, nil
	case DatabaseTypeSQLite:
		return newSQLiteDriver(ctx, db, TableName)
	default:
		return nil, fmt.Errorf("unsupported database type: %q", dbType)
	}
}

// Up 应用全部未执行的迁移
func (m *Migrator) Up(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down 回滚最近一次迁移
func (m *Migrator) Down(ctx context.Context) error {
	return m.Steps(ctx, -1)
}

// Steps 正数前进 n 步，负数回滚 n 步
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps %d failed: %w", n, err)
	}
	return nil
}

// Version 返回当前版本；尚未迁移时为 0
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status 列出全部内嵌迁移及其是否已应用
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := availableMigrations(m.dbType)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return statuses, nil
}

// Info 返回版本与已应用/待应用数量
func (m *Migrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{TotalMigrations: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
			info.CurrentVersion = s.Version
			info.Dirty = s.Dirty
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// Close 关闭 source 与数据库驱动，不关闭传入的 *sql.DB
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}

// Up 打开迁移器并迁移到最新版本，dialect 取 GORM 方言名
func Up(ctx context.Context, db *sql.DB, dialect string, logger *zap.Logger) error {
	dbType, err := ParseDatabaseType(dialect)
	if err != nil {
		return err
	}
	m, err := NewMigrator(ctx, db, dbType, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			m.logger.Warn("migrator close failed", zap.Error(err))
		}
	}()

	if err := m.Up(ctx); err != nil {
		return err
	}
	if version, _, err := m.Version(ctx); err == nil {
		m.logger.Debug("schema up to date", zap.Uint("version", version))
	}
	return nil
}

// migrationFile 一个版本号对应的 up/down 文件
type migrationFile struct {
	version uint
	name    string
	up      bool
	down    bool
}

func migrationsDir(dbType DatabaseType) string {
	return path.Join("migrations", string(dbType))
}

// availableMigrations 解析内嵌目录，文件名形如 000001_create_workflow_results.up.sql
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir(dbType))
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[uint]*migrationFile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var direction string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			direction = "up"
		case strings.HasSuffix(name, ".down.sql"):
			direction = "down"
		default:
			continue
		}

		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			continue
		}

		f, ok := byVersion[uint(version)]
		if !ok {
			f = &migrationFile{
				version: uint(version),
				name:    strings.TrimSuffix(parts[1], "."+direction+".sql"),
			}
			byVersion[uint(version)] = f
		}
		if direction == "up" {
			f.up = true
		} else {
			f.down = true
		}
	}

	files := make([]migrationFile, 0, len(byVersion))
	for _, f := range byVersion {
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].version < files[j].version
	})
	return files, nil
}

// migrateLogger 把 golang-migrate 的日志转到 zap debug 级别
type migrateLogger struct {
	logger *zap.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}
