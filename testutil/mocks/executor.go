// MockCodeExecutor 的代码执行能力测试模拟实现。
//
// 支持固定输出、按会话输出、延迟、前 N 次失败与调用记录。
package mocks

import (
	"context"
	"sync"
	"time"
)

// --- MockCodeExecutor 结构 ---

// ExecuteFunc 自定义执行函数
type ExecuteFunc func(ctx context.Context, session, instruction string) (string, error)

// ExecuteCall 记录单次执行调用
type ExecuteCall struct {
	Session     string
	Instruction string
	At          time.Time
}

// MockCodeExecutor 是代码执行能力的模拟实现
type MockCodeExecutor struct {
	mu sync.Mutex

	output         string
	sessionOutputs map[string]string
	err            error
	failFirst      int
	delay          time.Duration
	fn             ExecuteFunc

	calls []ExecuteCall
}

// --- 构造函数和 Builder 方法 ---

// NewMockCodeExecutor 创建新的 MockCodeExecutor
func NewMockCodeExecutor() *MockCodeExecutor {
	return &MockCodeExecutor{
		output:         "ok",
		sessionOutputs: make(map[string]string),
	}
}

// WithOutput 设置默认输出
func (m *MockCodeExecutor) WithOutput(out string) *MockCodeExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.output = out
	return m
}

// WithSessionOutput 为指定会话设置输出
func (m *MockCodeExecutor) WithSessionOutput(session, out string) *MockCodeExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionOutputs[session] = out
	return m
}

// WithError 每次执行都返回该错误
func (m *MockCodeExecutor) WithError(err error) *MockCodeExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailFirst 前 n 次调用返回 err，之后成功
func (m *MockCodeExecutor) WithFailFirst(n int, err error) *MockCodeExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	m.err = err
	return m
}

// WithDelay 每次执行前等待（可被 ctx 取消）
func (m *MockCodeExecutor) WithDelay(d time.Duration) *MockCodeExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFunc 使用自定义函数，优先级最高
func (m *MockCodeExecutor) WithFunc(fn ExecuteFunc) *MockCodeExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// --- CodeExecutor 实现 ---

// Execute 执行指令
func (m *MockCodeExecutor) Execute(ctx context.Context, session, instruction string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ExecuteCall{Session: session, Instruction: instruction, At: time.Now()})
	n := len(m.calls)
	fn, delay, err, failFirst := m.fn, m.delay, m.err, m.failFirst
	out, ok := m.sessionOutputs[session]
	if !ok {
		out = m.output
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, session, instruction)
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil && (failFirst == 0 || n <= failFirst) {
		return "", err
	}
	return out, nil
}

// --- 调用记录 ---

// Calls 返回所有调用记录
func (m *MockCodeExecutor) Calls() []ExecuteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecuteCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockCodeExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset 清空调用记录
func (m *MockCodeExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
