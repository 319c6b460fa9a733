package llm

import (
	"context"
	"fmt"
	"time"

	"learnlm/server/internal/config"

	"go.uber.org/zap"
)

// RetryProvider 对上游瞬时错误做有限次数的指数退避重试。
// 非瞬时错误（4xx、空响应等）立即返回；重试耗尽后返回最后一次错误。
type RetryProvider struct {
	next      Provider
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *zap.Logger
}

// NewRetryProvider 包装 next。attempts 小于 1 时按 1 处理。
func NewRetryProvider(next Provider, cfg config.RetryConfig, logger *zap.Logger) *RetryProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return &RetryProvider{
		next:      next,
		attempts:  attempts,
		baseDelay: cfg.BaseDelay,
		maxDelay:  cfg.MaxDelay,
		sleep:     sleepContext,
		logger:    logger,
	}
}

func (r *RetryProvider) Name() string { return r.next.Name() }

// Unwrap 返回被包装的 Provider。
func (r *RetryProvider) Unwrap() Provider { return r.next }

func (r *RetryProvider) Generate(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		resp, err := r.next.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == r.attempts {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Warn("transient provider error, retrying",
			zap.String("provider", r.next.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := r.sleep(ctx, delay); err != nil {
			return Response{}, fmt.Errorf("%s: retry aborted: %w", r.next.Name(), err)
		}
	}
	return Response{}, fmt.Errorf("%s: %w", r.next.Name(), lastErr)
}

// backoff 返回第 attempt 次失败后的等待时间：base * 2^(attempt-1)，不超过 maxDelay。
func (r *RetryProvider) backoff(attempt int) time.Duration {
	d := r.baseDelay << (attempt - 1)
	if r.maxDelay > 0 && (d > r.maxDelay || d <= 0) {
		d = r.maxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
