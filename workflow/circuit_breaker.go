package workflow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/big3labs/waveflow/types"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	// CircuitClosed 正常状态，允许请求通过
	CircuitClosed CircuitState = iota
	// CircuitOpen 熔断状态，拒绝所有请求
	CircuitOpen
	// CircuitHalfOpen 半开状态，允许探测请求
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	// FailureThreshold 连续失败次数阈值，达到后触发熔断
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// RecoveryTimeout 熔断后等待恢复的时间
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	// HalfOpenMaxProbes 半开状态允许的探测请求数
	HalfOpenMaxProbes int `yaml:"half_open_max_probes" json:"half_open_max_probes"`
	// SuccessThreshold 半开状态下连续成功多少次后恢复
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 3,
		SuccessThreshold:  2,
	}
}

// CircuitBreakerEvent 熔断器状态变更事件
type CircuitBreakerEvent struct {
	Tool      ToolKind     `json:"tool"`
	OldState  CircuitState `json:"old_state"`
	NewState  CircuitState `json:"new_state"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason"`
	Failures  int          `json:"failures"`
}

// CircuitBreakerEventHandler 事件处理器接口
type CircuitBreakerEventHandler interface {
	OnStateChange(event CircuitBreakerEvent)
}

// CircuitBreaker guards one tool capability. Consecutive dispatch failures open
// it; after RecoveryTimeout a limited number of probes may pass.
type CircuitBreaker struct {
	tool            ToolKind
	config          CircuitBreakerConfig
	state           CircuitState
	failures        int       // 连续失败次数
	successes       int       // 半开状态下连续成功次数
	lastFailureTime time.Time // 最后一次失败时间
	probeCount      int       // 半开状态下已探测次数
	eventHandler    CircuitBreakerEventHandler
	logger          *zap.Logger
	now             func() time.Time
	mu              sync.Mutex
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(
	tool ToolKind,
	config CircuitBreakerConfig,
	eventHandler CircuitBreakerEventHandler,
	logger *zap.Logger,
) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		tool:         tool,
		config:       config,
		state:        CircuitClosed,
		eventHandler: eventHandler,
		logger:       logger.With(zap.String("tool", string(tool))),
		now:          time.Now,
	}
}

// Allow 检查是否允许请求通过，拒绝时返回 CIRCUIT_OPEN 错误（可重试）
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		// 检查是否到了恢复时间
		elapsed := cb.now().Sub(cb.lastFailureTime)
		if elapsed >= cb.config.RecoveryTimeout {
			cb.transitionTo(CircuitHalfOpen, "recovery timeout elapsed")
			cb.probeCount = 1
			cb.successes = 0
			return nil
		}
		return types.NewError(types.ErrCircuitOpen,
			fmt.Sprintf("circuit open for %s after %d consecutive failures, retry after %v",
				cb.tool, cb.failures, cb.config.RecoveryTimeout-elapsed)).
			WithRetryable(true)

	case CircuitHalfOpen:
		if cb.probeCount < cb.config.HalfOpenMaxProbes {
			cb.probeCount++
			return nil
		}
		return types.NewError(types.ErrCircuitOpen,
			fmt.Sprintf("circuit half-open for %s: max probes (%d) in flight", cb.tool, cb.config.HalfOpenMaxProbes)).
			WithRetryable(true)

	default:
		return fmt.Errorf("unknown circuit breaker state: %d", cb.state)
	}
}

// RecordSuccess 记录成功
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0

	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.transitionTo(CircuitClosed, fmt.Sprintf("%d consecutive successes in half-open", cb.successes))
			cb.successes = 0
		}
	}
}

// RecordFailure 记录失败
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
		}

	case CircuitHalfOpen:
		// 半开状态下任何失败都重新熔断
		cb.successes = 0
		cb.transitionTo(CircuitOpen, "failure in half-open state")
	}
}

// State 获取当前状态
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures 获取当前连续失败次数
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset 重置熔断器
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitClosed {
		cb.transitionTo(CircuitClosed, "manual reset")
	}
	cb.failures = 0
	cb.successes = 0
	cb.probeCount = 0
}

// transitionTo 状态转换（必须在锁内调用）
func (cb *CircuitBreaker) transitionTo(newState CircuitState, reason string) {
	oldState := cb.state
	cb.state = newState

	cb.logger.Info("circuit breaker state change",
		zap.String("old_state", oldState.String()),
		zap.String("new_state", newState.String()),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures))

	if cb.eventHandler != nil {
		event := CircuitBreakerEvent{
			Tool:      cb.tool,
			OldState:  oldState,
			NewState:  newState,
			Timestamp: cb.now(),
			Reason:    reason,
			Failures:  cb.failures,
		}
		// 异步发送避免死锁
		go cb.eventHandler.OnStateChange(event)
	}
}

// CircuitBreakerRegistry 熔断器注册表，每种工具一个熔断器
type CircuitBreakerRegistry struct {
	breakers     map[ToolKind]*CircuitBreaker
	config       CircuitBreakerConfig
	eventHandler CircuitBreakerEventHandler
	logger       *zap.Logger
	mu           sync.RWMutex
}

// NewCircuitBreakerRegistry 创建熔断器注册表
func NewCircuitBreakerRegistry(
	config CircuitBreakerConfig,
	eventHandler CircuitBreakerEventHandler,
	logger *zap.Logger,
) *CircuitBreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreakerRegistry{
		breakers:     make(map[ToolKind]*CircuitBreaker),
		config:       config,
		eventHandler: eventHandler,
		logger:       logger.With(zap.String("component", "circuit_breaker")),
	}
}

// GetOrCreate 获取或创建工具的熔断器
func (r *CircuitBreakerRegistry) GetOrCreate(tool ToolKind) *CircuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[tool]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// 双重检查
	if cb, ok := r.breakers[tool]; ok {
		return cb
	}

	cb := NewCircuitBreaker(tool, r.config, r.eventHandler, r.logger)
	r.breakers[tool] = cb
	return cb
}

// States 获取所有熔断器状态
func (r *CircuitBreakerRegistry) States() map[ToolKind]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[ToolKind]CircuitState, len(r.breakers))
	for tool, cb := range r.breakers {
		states[tool] = cb.State()
	}
	return states
}

// ResetAll 重置所有熔断器
func (r *CircuitBreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
