package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/big3labs/waveflow/internal/database"
	"github.com/big3labs/waveflow/internal/migration"
	"github.com/big3labs/waveflow/workflow"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleResult(planID string, finishedOffset time.Duration) *workflow.WorkflowResult {
	return &workflow.WorkflowResult{
		PlanID:         planID,
		CompletedNodes: []string{"node-a"},
		FailedNodes:    []string{"node-b"},
		Outputs:        map[string]any{"node-a": "Created coder agent: bob"},
		Errors:         map[string]string{"node-b": "[TOOL_DISPATCH] boom"},
		Attempts:       map[string]int{"node-a": 1, "node-b": 3},
		StartedAt:      baseTime,
		FinishedAt:     baseTime.Add(finishedOffset),
	}
}

func setupRedisStore(t *testing.T, config StoreConfig) (*miniredis.Miniredis, *RedisResultStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisResultStoreWithClient(client, config)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func setupSQLStore(t *testing.T, config StoreConfig) *SQLResultStore {
	t.Helper()
	config.Database = database.Config{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "results.db")}
	store, err := NewSQLResultStore(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// runStoreSuite 对所有实现执行同一组行为检查
func runStoreSuite(t *testing.T, store ResultStore) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})

	t.Run("SaveAndGet", func(t *testing.T) {
		want := sampleResult("plan-1", time.Second)
		require.NoError(t, store.Save(ctx, want))

		got, err := store.Get(ctx, "plan-1")
		require.NoError(t, err)
		assert.Equal(t, want.PlanID, got.PlanID)
		assert.Equal(t, want.CompletedNodes, got.CompletedNodes)
		assert.Equal(t, want.FailedNodes, got.FailedNodes)
		assert.Equal(t, want.Outputs, got.Outputs)
		assert.Equal(t, want.Errors, got.Errors)
		assert.Equal(t, want.Attempts, got.Attempts)
		assert.True(t, want.FinishedAt.Equal(got.FinishedAt), "finished_at 应保持一致")
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		r := sampleResult("plan-1", 2*time.Second)
		r.FailedNodes = nil
		require.NoError(t, store.Save(ctx, r))

		got, err := store.Get(ctx, "plan-1")
		require.NoError(t, err)
		assert.Empty(t, got.FailedNodes)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "plan-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		assert.ErrorIs(t, store.Save(ctx, nil), ErrInvalidInput)
		assert.ErrorIs(t, store.Save(ctx, &workflow.WorkflowResult{}), ErrInvalidInput)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		for i := 2; i <= 4; i++ {
			require.NoError(t, store.Save(ctx, sampleResult(fmt.Sprintf("plan-%d", i), time.Duration(i)*time.Minute)))
		}

		all, err := store.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "plan-4", all[0].PlanID)
		assert.Equal(t, "plan-1", all[3].PlanID)

		top, err := store.List(ctx, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, []string{"plan-4", "plan-3"}, []string{top[0].PlanID, top[1].PlanID})
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "plan-2"))
		_, err := store.Get(ctx, "plan-2")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "plan-2"), ErrNotFound)

		all, err := store.List(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestMemoryResultStore(t *testing.T) {
	store := NewMemoryResultStore(DefaultStoreConfig())
	runStoreSuite(t, store)

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
	assert.ErrorIs(t, store.Save(context.Background(), sampleResult("x", 0)), ErrStoreClosed)
}

func TestMemoryResultStore_Isolation(t *testing.T) {
	store := NewMemoryResultStore(StoreConfig{})
	r := sampleResult("plan-1", 0)
	require.NoError(t, store.Save(context.Background(), r))

	r.CompletedNodes[0] = "mutated"
	got, err := store.Get(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, "node-a", got.CompletedNodes[0], "保存后修改原结果不影响存储")
}

func TestMemoryResultStore_TTL(t *testing.T) {
	now := baseTime
	store := NewMemoryResultStore(StoreConfig{TTL: time.Hour})
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(context.Background(), sampleResult("plan-1", 0)))
	now = now.Add(time.Hour)

	_, err := store.Get(context.Background(), "plan-1")
	assert.ErrorIs(t, err, ErrNotFound)
	all, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisResultStore(t *testing.T) {
	_, store := setupRedisStore(t, DefaultStoreConfig())
	runStoreSuite(t, store)
}

func TestRedisResultStore_KeysAndTTL(t *testing.T) {
	config := DefaultStoreConfig()
	config.KeyPrefix = "test:"
	config.TTL = time.Minute
	mr, store := setupRedisStore(t, config)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleResult("plan-1", time.Second)))
	require.NoError(t, store.Save(ctx, sampleResult("plan-2", 2*time.Second)))

	assert.True(t, mr.Exists("test:result:plan-1"))
	assert.Equal(t, time.Minute, mr.TTL("test:result:plan-1"))
	members, err := mr.ZMembers("test:results")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"plan-1", "plan-2"}, members)

	// 过期后 List 会清理索引
	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.Save(ctx, sampleResult("plan-3", 3*time.Second)))

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "plan-3", all[0].PlanID)

	members, err = mr.ZMembers("test:results")
	require.NoError(t, err)
	assert.Equal(t, []string{"plan-3"}, members)
}

func TestRedisResultStore_ListLimitSkipsExpired(t *testing.T) {
	config := DefaultStoreConfig()
	config.TTL = time.Minute
	mr, store := setupRedisStore(t, config)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleResult("old-1", time.Second)))
	require.NoError(t, store.Save(ctx, sampleResult("old-2", 2*time.Second)))
	mr.FastForward(2 * time.Minute)
	// 较新的结果先过期，较旧的结果仍然有效
	require.NoError(t, store.Save(ctx, sampleResult("old-1", time.Second)))
	require.NoError(t, store.Save(ctx, sampleResult("new-1", 10*time.Second)))
	mr.Del(config.KeyPrefix + "result:new-1")

	top, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "old-1", top[0].PlanID)
}

func TestRedisResultStore_ConnectFailure(t *testing.T) {
	config := DefaultStoreConfig()
	config.Type = StoreTypeRedis
	config.Redis.Addr = "127.0.0.1:1"
	_, err := NewResultStore(config)
	assert.Error(t, err)
}

func TestSQLResultStore(t *testing.T) {
	store := setupSQLStore(t, DefaultStoreConfig())
	runStoreSuite(t, store)
}

func TestSQLResultStore_TTL(t *testing.T) {
	store := setupSQLStore(t, StoreConfig{TTL: time.Hour})
	now := baseTime
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleResult("plan-1", 0)))
	now = now.Add(2 * time.Hour)
	require.NoError(t, store.Save(ctx, sampleResult("plan-2", time.Minute)))

	_, err := store.Get(ctx, "plan-1")
	assert.ErrorIs(t, err, ErrNotFound)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "plan-2", all[0].PlanID)
}

func TestSQLResultStore_SchemaVersioned(t *testing.T) {
	config := DefaultStoreConfig()
	config.Database = database.Config{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "results.db")}

	first, err := NewSQLResultStore(config)
	require.NoError(t, err)
	require.NoError(t, first.Save(context.Background(), sampleResult("plan-1", 0)))

	var version int
	var dirty bool
	require.NoError(t, first.pool.SQLDB().QueryRow(
		"SELECT version, dirty FROM "+migration.TableName).Scan(&version, &dirty))
	assert.Equal(t, 2, version)
	assert.False(t, dirty)
	require.NoError(t, first.Close())

	// 重新打开同一个文件时迁移已是最新，数据保留
	second, err := NewSQLResultStore(config)
	require.NoError(t, err)
	defer second.Close()
	got, err := second.Get(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, "plan-1", got.PlanID)
}

func TestNewResultStore(t *testing.T) {
	store, err := NewResultStore(StoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryResultStore{}, store)

	config := DefaultStoreConfig()
	config.Type = StoreTypeDatabase
	config.Database.Name = filepath.Join(t.TempDir(), "f.db")
	store, err = NewResultStore(config)
	require.NoError(t, err)
	assert.IsType(t, &SQLResultStore{}, store)
	require.NoError(t, store.Close())

	_, err = NewResultStore(StoreConfig{Type: "s3"})
	assert.Error(t, err)
}

func TestRunnerSavesIntoStore(t *testing.T) {
	store := NewMemoryResultStore(StoreConfig{})
	g := workflow.NewPlanGraph()
	step := g.AddStep(workflow.CreateAgent{AgentType: "coder", Name: "bob"})
	plan, err := workflow.NewPlan(g)
	require.NoError(t, err)

	d, err := workflow.NewDispatcher(nil, nil)
	require.NoError(t, err)
	_, err = workflow.NewRunner(d, workflow.WithStore(store)).Run(context.Background(), plan, workflow.ModeParallel)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{step.ID}, got.CompletedNodes)
	assert.Equal(t, "Created coder agent: bob", got.Outputs[step.ID])
}
