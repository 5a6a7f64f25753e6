package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBucketBurstAndRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewBucket(clk, 5)

	for i := 0; i < 5; i++ {
		if !b.Take() {
			t.Fatalf("burst take %d failed", i)
		}
	}
	if b.Take() {
		t.Fatalf("take succeeded on an empty bucket")
	}

	clk.Advance(200 * time.Millisecond) // one token at 5/sec
	if !b.Take() {
		t.Fatalf("expected refill after 200ms")
	}
	if b.Take() {
		t.Fatalf("refilled more than one token")
	}
}

func TestBucketCapacityClamp(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewBucket(clk, 2)

	clk.Advance(time.Hour)
	for i := 0; i < 2; i++ {
		if !b.Take() {
			t.Fatalf("take %d failed after long idle", i)
		}
	}
	if b.Take() {
		t.Fatalf("bucket exceeded its capacity")
	}
}

func TestBucketDisabled(t *testing.T) {
	b := NewBucket(&fakeClock{}, 0)
	for i := 0; i < 100; i++ {
		if !b.Take() {
			t.Fatalf("disabled bucket refused a take")
		}
	}
}

func TestBucketClockGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewBucket(clk, 1)

	if !b.Take() {
		t.Fatalf("initial take failed")
	}
	clk.Advance(-time.Minute)
	if b.Take() {
		t.Fatalf("backwards clock produced tokens")
	}
}
