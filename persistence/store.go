// Package persistence stores finished workflow results.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/big3labs/waveflow/internal/database"
	"github.com/big3labs/waveflow/workflow"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
)

// ResultStore persists WorkflowResults keyed by plan id. It satisfies
// workflow.ResultSaver so a runner can save into it directly.
type ResultStore interface {
	Save(ctx context.Context, result *workflow.WorkflowResult) error
	Get(ctx context.Context, planID string) (*workflow.WorkflowResult, error)
	// List returns up to limit results, most recently finished first.
	// limit <= 0 returns everything.
	List(ctx context.Context, limit int) ([]*workflow.WorkflowResult, error)
	Delete(ctx context.Context, planID string) error
	Ping(ctx context.Context) error
	Close() error
}

var _ workflow.ResultSaver = (ResultStore)(nil)

// StoreConfig selects and configures a result store.
type StoreConfig struct {
	Type StoreType `json:"type" yaml:"type"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TTL bounds how long a result is kept. Zero keeps results forever.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	Redis    RedisConfig     `json:"redis" yaml:"redis"`
	Database database.Config `json:"database" yaml:"database"`
}

// RedisConfig contains Redis-specific configuration
type RedisConfig struct {
	Addr         string `json:"addr" yaml:"addr"`
	Password     string `json:"password" yaml:"password"`
	DB           int    `json:"db" yaml:"db"`
	PoolSize     int    `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int    `json:"min_idle_conns" yaml:"min_idle_conns"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      StoreTypeMemory,
		KeyPrefix: "waveflow:",
		TTL:       7 * 24 * time.Hour,
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Database: database.Config{
			Driver: "sqlite",
			Name:   "waveflow.db",
		},
	}
}
