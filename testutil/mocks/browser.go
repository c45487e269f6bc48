// MockBrowser 的浏览器自动化能力测试模拟实现。
//
// 记录 Navigate / Act 的调用顺序，支持错误注入。
package mocks

import (
	"context"
	"sync"
)

// BrowserCall 记录单次浏览器调用
type BrowserCall struct {
	Method string // navigate | act
	Arg    string
}

// MockBrowser 是浏览器自动化能力的模拟实现
type MockBrowser struct {
	mu sync.Mutex

	actResult   string
	actResults  map[string]string
	navigateErr error
	actErr      error

	currentURL string
	calls      []BrowserCall
}

// NewMockBrowser 创建新的 MockBrowser
func NewMockBrowser() *MockBrowser {
	return &MockBrowser{
		actResult:  "done",
		actResults: make(map[string]string),
	}
}

// WithActResult 设置默认 Act 返回值
func (m *MockBrowser) WithActResult(result string) *MockBrowser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actResult = result
	return m
}

// WithTaskResult 为指定任务设置返回值
func (m *MockBrowser) WithTaskResult(task, result string) *MockBrowser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actResults[task] = result
	return m
}

// WithNavigateError 设置 Navigate 错误
func (m *MockBrowser) WithNavigateError(err error) *MockBrowser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.navigateErr = err
	return m
}

// WithActError 设置 Act 错误
func (m *MockBrowser) WithActError(err error) *MockBrowser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actErr = err
	return m
}

// Navigate 打开页面
func (m *MockBrowser) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, BrowserCall{Method: "navigate", Arg: url})
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.navigateErr != nil {
		return m.navigateErr
	}
	m.currentURL = url
	return nil
}

// Act 执行任务
func (m *MockBrowser) Act(ctx context.Context, task string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, BrowserCall{Method: "act", Arg: task})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.actErr != nil {
		return "", m.actErr
	}
	if r, ok := m.actResults[task]; ok {
		return r, nil
	}
	return m.actResult, nil
}

// Calls 返回调用记录
func (m *MockBrowser) Calls() []BrowserCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BrowserCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CurrentURL 返回最近一次成功导航的地址
func (m *MockBrowser) CurrentURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentURL
}
