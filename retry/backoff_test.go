package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/big3labs/waveflow/types"
)

func TestBackoffRetryer_Success(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		Backoff:    BackoffExponential,
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		Backoff:    BackoffFixed,
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	out, err := retryer.DoWithResult(context.Background(), func(ctx context.Context) (any, error) {
		callCount++
		if callCount < 3 {
			return nil, errors.New("temporary error") // 前两次失败
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Backoff:    BackoffExponential,
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	testErr := errors.New("persistent error")

	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return testErr // 始终失败
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, testErr)
	assert.Equal(t, 3, Attempts(err))
	assert.Equal(t, 3, callCount, "应该调用三次（初始+2次重试）")
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries: 5,
		RetryDelay: 100 * time.Millisecond,
		Backoff:    BackoffFixed,
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	callCount := 0
	err := retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		return errors.New("error")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_NonRetryableTypedError(t *testing.T) {
	retryer := NewBackoffRetryer(&RetryPolicy{MaxRetries: 3}, zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return types.NewStepNotFoundError("missing")
	})

	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStepNotFound))
	assert.Equal(t, 1, callCount, "不应该重试")
	assert.Equal(t, 1, Attempts(err))
}

func TestBackoffRetryer_CustomRetryIf(t *testing.T) {
	retryableErr := errors.New("retryable error")

	retryer := NewBackoffRetryer(&RetryPolicy{
		MaxRetries: 3,
		RetryIf: func(err error) bool {
			return errors.Is(err, retryableErr)
		},
	}, zap.NewNop())

	t.Run("retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func(ctx context.Context) error {
			callCount++
			if callCount < 3 {
				return retryableErr
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, callCount)
	})

	t.Run("non-retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func(ctx context.Context) error {
			callCount++
			return errors.New("other")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, callCount, "不应该重试")
	})
}

func TestBackoffRetryer_DelayCalculation(t *testing.T) {
	exp := NewBackoffRetryer(&RetryPolicy{
		MaxRetries: 5,
		RetryDelay: 100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
		Backoff:    BackoffExponential,
	}, zap.NewNop()).(*backoffRetryer)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond}, // 初始延迟
		{2, 200 * time.Millisecond}, // 100 * 2^1
		{3, 400 * time.Millisecond}, // 100 * 2^2
		{4, 800 * time.Millisecond}, // 100 * 2^3
		{5, 1 * time.Second},        // 达到最大延迟
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, exp.calculateDelay(tt.attempt))
	}

	fixed := NewBackoffRetryer(&RetryPolicy{
		MaxRetries: 5,
		RetryDelay: 100 * time.Millisecond,
		Backoff:    BackoffFixed,
	}, zap.NewNop()).(*backoffRetryer)
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 100*time.Millisecond, fixed.calculateDelay(attempt))
	}
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	var attempts []int
	retryer := NewBackoffRetryer(&RetryPolicy{
		MaxRetries: 2,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		},
	}, zap.NewNop())

	_ = retryer.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestBackoffRetryer_DoesNotMutatePolicy(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: -1}
	_ = NewBackoffRetryer(policy, nil)
	assert.Equal(t, -1, policy.MaxRetries)
	assert.Nil(t, policy.RetryIf)
}
