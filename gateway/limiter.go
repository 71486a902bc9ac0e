package gateway

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 控制出站请求速率，避免触发交易所限流。
// Wait 阻塞到拿到一个令牌，或 ctx 先到期。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// TokenBucketLimiter 令牌桶限流器。令牌按 rate 每秒补充，上限 burst。
type TokenBucketLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  int
	tokens float64
	last   time.Time
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Wait 消耗一个令牌。令牌不足时按缺口计算等待时长，
// 等待期间 ctx 到期则直接返回 ctx 的错误，不再消耗令牌。
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	l.last = now
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	if l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}
	wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	l.mu.Lock()
	l.tokens = 0
	l.last = time.Now()
	l.mu.Unlock()
	return nil
}
