package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Unlimited is the capacity of a bucket that never runs dry.
const Unlimited int64 = math.MaxInt64

// TokenBucket is a concurrency-safe count of byte tokens.
//
// Take is non-blocking: it either withdraws all requested tokens or none.
// Callers that would rather sleep than poll use Wait, which parks on the
// Refilled broadcast until the limiter tops the bucket up.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   int64
	capacity int64
	refilled chan struct{}
}

// NewTokenBucket returns a bucket holding capacity tokens. Add never raises
// the count above capacity.
func NewTokenBucket(capacity int64) *TokenBucket {
	if capacity <= 0 {
		capacity = Unlimited
	}
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		refilled: make(chan struct{}),
	}
}

func NewUnlimitedTokenBucket() *TokenBucket {
	return NewTokenBucket(Unlimited)
}

func (b *TokenBucket) unlimited() bool {
	return b.capacity == Unlimited
}

// Take withdraws n tokens and returns n, or withdraws nothing and returns 0
// when fewer than n tokens are available.
func (b *TokenBucket) Take(n int64) int64 {
	if n <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unlimited() {
		return n
	}
	if b.tokens < n {
		return 0
	}
	b.tokens -= n
	return n
}

// Set overwrites the token count. It is the hard rate-limit reset.
func (b *TokenBucket) Set(n int64) {
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	b.tokens = min(n, b.capacity)
	b.broadcastLocked()
	b.mu.Unlock()
}

// Add increases the token count by n, discarding anything above capacity.
// It is the soft rate-limit refill.
func (b *TokenBucket) Add(n int64) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	if b.tokens > b.capacity-n {
		b.tokens = b.capacity
	} else {
		b.tokens += n
	}
	b.broadcastLocked()
	b.mu.Unlock()
}

func (b *TokenBucket) Available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func (b *TokenBucket) Capacity() int64 {
	return b.capacity
}

// Refilled returns a channel that is closed the next time tokens are set or
// added.
func (b *TokenBucket) Refilled() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refilled
}

func (b *TokenBucket) broadcastLocked() {
	close(b.refilled)
	b.refilled = make(chan struct{})
}

// Wait blocks until n tokens have been withdrawn or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context, n int64) error {
	if n > b.capacity {
		return fmt.Errorf("requested %d tokens from a bucket with capacity %d", n, b.capacity)
	}
	for {
		// grab the channel before trying so a refill between the two can't be missed
		refilled := b.Refilled()
		if b.Take(n) == n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refilled:
		}
	}
}
