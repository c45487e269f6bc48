// 文件变更监听器实现。
//
// 轮询文件修改时间，防抖后触发回调；run --watch 用它在计划或配置文件
// 变更后重新执行。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher polls files for changes and reports them after a quiet period.
type FileWatcher struct {
	mu sync.Mutex

	paths         []string
	pollInterval  time.Duration
	debounceDelay time.Duration

	callbacks    []func(event FileEvent)
	lastModTimes map[string]time.Time
	running      bool

	logger *zap.Logger
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 文件出现
	FileOpCreate FileOp = iota
	// FileOpWrite 修改时间前移
	FileOpWrite
	// FileOpRemove 文件消失
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithPollInterval sets how often files are checked
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a watcher over paths. Missing files are allowed and
// reported as created when they appear.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		lastModTimes:  make(map[string]time.Time),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "file_watcher"))

	for _, path := range paths {
		if err := w.AddPath(path); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Run polls until ctx is done. Events for the same path within the debounce
// window collapse into the last one. Callbacks run on the Run goroutine.
func (w *FileWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.Paths()),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var (
		pending = make(map[string]FileEvent)
		timer   *time.Timer
		fire    <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("file watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			events := w.checkFiles()
			if len(events) == 0 {
				continue
			}
			for _, e := range events {
				pending[e.Path] = e
			}
			// 重置防抖定时器
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounceDelay)
			fire = timer.C
		case <-fire:
			fire = nil
			w.dispatch(pending)
			pending = make(map[string]FileEvent)
		}
	}
}

// checkFiles compares every watched file with its last known modification time.
func (w *FileWatcher) checkFiles() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []FileEvent
	now := time.Now()
	for _, path := range w.paths {
		info, err := os.Stat(path)
		lastMod, existed := w.lastModTimes[path]
		switch {
		case err != nil:
			if existed && os.IsNotExist(err) {
				delete(w.lastModTimes, path)
				events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
			}
		case !existed:
			w.lastModTimes[path] = info.ModTime()
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case info.ModTime().After(lastMod):
			w.lastModTimes[path] = info.ModTime()
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}
	return events
}

func (w *FileWatcher) dispatch(pending map[string]FileEvent) {
	w.mu.Lock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for path, evt := range pending {
		w.logger.Debug("dispatching file event",
			zap.String("path", path),
			zap.String("op", evt.Op.String()))
		for _, cb := range callbacks {
			cb(evt)
		}
	}
}

// AddPath adds a new path to watch
func (w *FileWatcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range w.paths {
		if p == absPath {
			return nil
		}
	}

	info, err := os.Stat(absPath)
	switch {
	case err == nil:
		w.lastModTimes[absPath] = info.ModTime()
	case os.IsNotExist(err):
		w.logger.Warn("watched file does not exist, will watch for creation", zap.String("path", absPath))
	default:
		return fmt.Errorf("failed to stat path %s: %w", absPath, err)
	}

	w.paths = append(w.paths, absPath)
	return nil
}

// RemovePath removes a path from watching
func (w *FileWatcher) RemovePath(path string) error {
	absPath, _ := filepath.Abs(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	for i, p := range w.paths {
		if p == absPath {
			w.paths = append(w.paths[:i], w.paths[i+1:]...)
			delete(w.lastModTimes, absPath)
			return nil
		}
	}
	return fmt.Errorf("path not found: %s", path)
}

// Paths returns the list of watched paths
func (w *FileWatcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, len(w.paths))
	copy(paths, w.paths)
	return paths
}

// IsRunning returns whether Run is active
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
