package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []FileEvent
}

func (l *eventLog) add(e FileEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []FileEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]FileEvent(nil), l.events...)
}

func startWatcher(t *testing.T, w *FileWatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, w.IsRunning, time.Second, 5*time.Millisecond)
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(mod.String()), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestNewFileWatcher(t *testing.T) {
	f := filepath.Join(t.TempDir(), "plan.yaml")
	touch(t, f, time.Now())

	w, err := NewFileWatcher([]string{f, f},
		WithDebounceDelay(500*time.Millisecond),
		WithPollInterval(50*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, []string{f}, w.Paths(), "重复路径只记录一次")
	assert.Equal(t, 500*time.Millisecond, w.debounceDelay)
	assert.Equal(t, 50*time.Millisecond, w.pollInterval)
	assert.False(t, w.IsRunning())

	missing, err := NewFileWatcher([]string{filepath.Join(t.TempDir(), "later.yaml")})
	require.NoError(t, err, "不存在的文件允许监听")
	assert.Len(t, missing.Paths(), 1)
}

func TestFileWatcher_RemovePath(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yaml")
	w, err := NewFileWatcher([]string{a, b})
	require.NoError(t, err)

	require.NoError(t, w.RemovePath(a))
	assert.Equal(t, []string{b}, w.Paths())
	assert.Error(t, w.RemovePath(a))
}

func TestFileWatcher_ReportsWriteCreateRemove(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "plan.yaml")
	created := filepath.Join(dir, "config.yaml")
	base := time.Now().Add(-time.Hour)
	touch(t, existing, base)

	w, err := NewFileWatcher([]string{existing, created},
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	log := &eventLog{}
	w.OnChange(log.add)
	startWatcher(t, w)

	touch(t, existing, base.Add(time.Minute))
	touch(t, created, base)

	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	ops := map[string]FileOp{}
	for _, e := range log.snapshot() {
		ops[e.Path] = e.Op
	}
	assert.Equal(t, FileOpWrite, ops[existing])
	assert.Equal(t, FileOpCreate, ops[created])

	require.NoError(t, os.Remove(existing))
	require.Eventually(t, func() bool { return len(log.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	last := log.snapshot()[2]
	assert.Equal(t, existing, last.Path)
	assert.Equal(t, FileOpRemove, last.Op)
}

func TestFileWatcher_Debounce(t *testing.T) {
	f := filepath.Join(t.TempDir(), "plan.yaml")
	base := time.Now().Add(-time.Hour)
	touch(t, f, base)

	w, err := NewFileWatcher([]string{f},
		WithPollInterval(5*time.Millisecond),
		WithDebounceDelay(200*time.Millisecond))
	require.NoError(t, err)

	log := &eventLog{}
	w.OnChange(log.add)
	startWatcher(t, w)

	// 防抖窗口内的多次修改合并为一次回调
	for i := 1; i <= 3; i++ {
		touch(t, f, base.Add(time.Duration(i)*time.Minute))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, log.snapshot(), 1)
}

func TestFileWatcher_RunTwice(t *testing.T) {
	w, err := NewFileWatcher(nil, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	startWatcher(t, w)

	assert.Error(t, w.Run(context.Background()))
}

func TestFileWatcher_ContextCancel(t *testing.T) {
	w, err := NewFileWatcher(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, w.IsRunning, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, w.IsRunning())
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}
