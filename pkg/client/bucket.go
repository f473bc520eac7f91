package client

import (
	"sync"
	"time"
)

// tokenBucket shapes chunk emission to a byte rate.
type tokenBucket struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
	rate     int64 // tokens per second
	last     time.Time
}

func newTokenBucket(ratePerSec, capacity int64) *tokenBucket {
	if capacity <= 0 {
		capacity = ratePerSec
	}
	return &tokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSec, last: time.Now()}
}

// allow tries to consume n tokens; if not enough, returns the duration to
// wait before retrying.
func (b *tokenBucket) allow(n int64) (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if b.last.IsZero() {
		b.last = now
	}
	dt := now.Sub(b.last)
	if dt > 0 {
		add := (b.rate * dt.Nanoseconds()) / int64(time.Second)
		if add > 0 {
			b.tokens += add
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.last = now
		}
	}
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	need := n - b.tokens
	nanos := (need * int64(time.Second)) / b.rate
	return false, time.Duration(nanos)
}
