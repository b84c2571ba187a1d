package raftengine

import (
	"context"
	"time"
)

// ByteRateLimiter throttles a byte stream to a bytes/sec budget, the
// "optionally throttled to a byte/sec budget" clause of spec §4.5's
// snapshot install. A zero budget means unthrottled.
type ByteRateLimiter struct {
	budget int64 // bytes/sec; 0 = unlimited
	tokens int64
	last   time.Time
	now    func() time.Time
}

// NewByteRateLimiter creates a limiter for budget bytes/sec.
func NewByteRateLimiter(budget int64) *ByteRateLimiter {
	return &ByteRateLimiter{budget: budget, now: time.Now}
}

// Wait blocks until n bytes may be sent without exceeding the budget.
func (l *ByteRateLimiter) Wait(ctx context.Context, n int) error {
	if l.budget <= 0 {
		return nil
	}
	if l.last.IsZero() {
		l.last = l.now()
		l.tokens = l.budget
	}

	for {
		elapsed := l.now().Sub(l.last)
		l.tokens += int64(elapsed.Seconds() * float64(l.budget))
		if l.tokens > l.budget {
			l.tokens = l.budget
		}
		l.last = l.now()

		if l.tokens >= int64(n) {
			l.tokens -= int64(n)
			return nil
		}

		wait := time.Duration(float64(int64(n)-l.tokens) / float64(l.budget) * float64(time.Second))
		if wait <= 0 {
			wait = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
