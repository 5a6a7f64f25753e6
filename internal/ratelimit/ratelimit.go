// Package ratelimit provides the deterministic token bucket used to bound
// per-connection signaling message rates.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// nanoPerToken represents one token as 1e9 nano-tokens, so a fill rate of
// N tokens/sec adds exactly N nano-tokens per elapsed nanosecond. Integer
// arithmetic keeps refills exact under a fake clock.
const nanoPerToken = int64(time.Second)

// Bucket is a token bucket sized and filled in whole tokens per second.
// A zero or negative rate disables the bucket (Take always succeeds).
type Bucket struct {
	mu sync.Mutex

	clock Clock
	rate  int64 // tokens/sec; also the burst capacity

	available int64 // nano-tokens
	last      time.Time
}

// NewBucket returns a bucket allowing a sustained (and burst) rate of
// perSecond tokens per second, starting full.
func NewBucket(clock Clock, perSecond int) *Bucket {
	if clock == nil {
		clock = RealClock{}
	}
	rate := int64(perSecond)
	b := &Bucket{clock: clock, rate: rate, last: clock.Now()}
	if rate > 0 {
		b.available = rate * nanoPerToken
	}
	return b
}

// Take consumes one token, reporting whether one was available.
func (b *Bucket) Take() bool {
	if b.rate <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if now.After(b.last) {
		b.available += now.Sub(b.last).Nanoseconds() * b.rate
		if capacity := b.rate * nanoPerToken; b.available > capacity {
			b.available = capacity
		}
	}
	b.last = now

	if b.available < nanoPerToken {
		return false
	}
	b.available -= nanoPerToken
	return true
}
