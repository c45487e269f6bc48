package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config 数据库连接配置
type Config struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver   string `yaml:"driver" json:"driver"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	// 数据库名；sqlite 下为文件路径
	Name    string `yaml:"name" json:"name"`
	SSLMode string `yaml:"ssl_mode" json:"ssl_mode"`

	Pool PoolConfig `yaml:"pool" json:"pool"`
}

// DSN 按驱动生成连接串
func (c Config) DSN() (string, error) {
	switch strings.ToLower(c.Driver) {
	case "postgres", "postgresql":
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, sslMode), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.Name), nil
	case "sqlite", "sqlite3":
		if c.Name == "" {
			return "", fmt.Errorf("sqlite requires a database file name")
		}
		return c.Name, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", c.Driver)
	}
}

// Dialector 返回驱动对应的 GORM 方言
func (c Config) Dialector() (gorm.Dialector, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(c.Driver) {
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

// Open 打开数据库并交给 PoolManager 管理
func Open(cfg Config, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := cfg.Dialector()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	pool := cfg.Pool
	if pool == (PoolConfig{}) {
		pool = DefaultPoolConfig()
	}
	if strings.HasPrefix(strings.ToLower(cfg.Driver), "sqlite") {
		// sqlite 单写者
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}

	return NewPoolManager(db, pool, logger)
}
