package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/big3labs/waveflow/retry"
)

var testPool = PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}

// newMockPool 基于 sqlmock 的 postgres 方言连接，Ping 也需要显式 Expect
func newMockPool(t *testing.T, config PoolConfig) (*PoolManager, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	manager, err := NewPoolManager(gormDB, config, zap.NewNop())
	require.NoError(t, err)
	return manager, mock
}

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func TestNewPoolManager(t *testing.T) {
	manager, _ := newMockPool(t, testPool)
	assert.NotNil(t, manager.DB())
	assert.NotNil(t, manager.SQLDB())
	assert.Equal(t, "postgres", manager.Dialect())
	assert.Equal(t, 10, manager.Stats().MaxOpenConnections)

	_, err := NewPoolManager(nil, testPool, nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	manager, mock := newMockPool(t, testPool)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, manager.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	manager, mock := newMockPool(t, testPool)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, manager.WithTransaction(ctx, func(tx *gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, manager.WithTransaction(ctx, func(tx *gorm.DB) error { return assert.AnError }), assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	manager, mock := newMockPool(t, PoolConfig{
		MaxOpenConns:        10,
		MaxIdleConns:        5,
		HealthCheckInterval: 20 * time.Millisecond,
	})

	// 健康检查至少跑一轮后再关闭，循环应退出（未 Expect 的 Ping 只记录告警）
	time.Sleep(50 * time.Millisecond)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close(), "重复关闭是空操作")

	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)
	assert.ErrorIs(t, manager.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }), ErrPoolClosed)
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	t.Run("deadlock is retried", func(t *testing.T) {
		manager, mock := newMockPool(t, testPool)
		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectCommit()

		calls := 0
		err := manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
			calls++
			if calls == 1 {
				return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("permanent error returns as is", func(t *testing.T) {
		manager, mock := newMockPool(t, testPool)
		mock.ExpectBegin()
		mock.ExpectRollback()

		permanent := errors.New("unique constraint violated")
		err := manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
			return permanent
		})
		assert.Same(t, permanent, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		manager, mock := newMockPool(t, testPool)
		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}

		calls := 0
		err := manager.WithTransactionRetry(context.Background(), 2, func(tx *gorm.DB) error {
			calls++
			return errors.New("driver: bad connection")
		})
		require.Error(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 2, retry.Attempts(err))
	})
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("Deadlock found when trying to get lock"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("pq: could not serialize access (SQLSTATE 40001)"), true},
		{errors.New("syntax error"), false},
		{context.Canceled, false},
		{ErrPoolClosed, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr string
	}{
		{name: "defaults", config: DefaultPoolConfig()},
		{name: "no open conns", config: PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, wantErr: "max_open_conns"},
		{name: "no idle conns", config: PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, wantErr: "max_idle_conns must be positive"},
		{name: "idle > open", config: PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, wantErr: "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// =============================================================================
// 🧪 Open / DSN 测试
// =============================================================================

func TestConfig_DSN(t *testing.T) {
	pg := Config{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "wf"}
	dsn, err := pg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=wf sslmode=disable", dsn)

	my := Config{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "wf"}
	dsn, err = my.DSN()
	require.NoError(t, err)
	assert.Equal(t, "u:p@tcp(db:3306)/wf?charset=utf8mb4&parseTime=True&loc=Local", dsn)

	_, err = Config{Driver: "sqlite"}.DSN()
	assert.Error(t, err)

	_, err = Config{Driver: "oracle"}.DSN()
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waveflow.db")

	manager, err := Open(Config{Driver: "sqlite", Name: path}, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	require.NoError(t, manager.Ping(context.Background()))
	assert.Equal(t, 1, manager.Stats().MaxOpenConnections, "sqlite 只允许单连接")
	assert.Equal(t, "sqlite", manager.Dialect())
	assert.FileExists(t, path)
}
