package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/big3labs/waveflow/types"
)

// Backoff 退避策略
type Backoff string

const (
	// BackoffFixed 每次重试间隔固定为 RetryDelay
	BackoffFixed Backoff = "fixed"
	// BackoffExponential 间隔按 Multiplier 指数增长，上限 MaxDelay
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy 定义重试策略配置
// 作用于一次 Runner 调用中的所有步骤，而不是单个步骤
type RetryPolicy struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries"` // 首次失败后的最大重试次数（0 表示不重试）
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"` // 重试间隔（指数退避时为初始间隔）
	Backoff    Backoff       `yaml:"backoff" json:"backoff"`         // fixed | exponential
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`     // 最大延迟时间
	Multiplier float64       `yaml:"multiplier" json:"multiplier"`   // 延迟倍增因子
	Jitter     bool          `yaml:"jitter" json:"jitter"`           // 是否添加随机抖动（±25%）

	// RetryIf 判断错误是否可重试，为空时使用 DefaultRetryIf
	RetryIf func(err error) bool `yaml:"-" json:"-"`
	// OnRetry 重试回调
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Backoff:    BackoffExponential,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// NoRetry 返回只执行一次的策略
func NoRetry() *RetryPolicy {
	return &RetryPolicy{Backoff: BackoffFixed}
}

// DefaultRetryIf 默认可重试判定：
// context 取消/超时不重试；显式标记为不可重试的 *types.Error 不重试；其余错误均重试
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if e, ok := types.AsError(err); ok {
		return e.Retryable
	}
	return true
}

// ExhaustedError 所有尝试均失败后返回的错误，携带尝试次数
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Attempts 返回错误链中记录的尝试次数；没有记录时返回 1
func Attempts(err error) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return 1
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func(ctx context.Context) error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
}

// backoffRetryer 基于退避策略的重试器实现
type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 拷贝一份，避免修改调用方的策略
	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = 0
	}
	if p.Backoff == "" {
		p.Backoff = BackoffExponential
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.RetryIf == nil {
		p.RetryIf = DefaultRetryIf
	}

	return &backoffRetryer{
		policy: p,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 首次失败后最多再执行 MaxRetries 次；成功即返回，失败记录的尝试次数随错误返回
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			if err := sleep(ctx, delay); err != nil {
				return nil, &ExhaustedError{
					Attempts: attempt,
					Err:      fmt.Errorf("retry cancelled: %w", errors.Join(err, lastErr)),
				}
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.policy.RetryIf(err) {
			r.logger.Debug("error is not retryable", zap.Error(err))
			return nil, &ExhaustedError{Attempts: attempt + 1, Err: err}
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return nil, &ExhaustedError{Attempts: r.policy.MaxRetries + 1, Err: lastErr}
}

// calculateDelay 计算第 attempt 次重试前的等待时间
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	if r.policy.RetryDelay == 0 {
		return 0
	}

	delay := float64(r.policy.RetryDelay)
	if r.policy.Backoff == BackoffExponential {
		// delay = initial * multiplier^(attempt-1)
		delay = delay * math.Pow(r.policy.Multiplier, float64(attempt-1))
	}

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
