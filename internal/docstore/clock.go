package docstore

import (
	"sync"
	"time"
)

// TimeSource returns the current wall time.
type TimeSource func() time.Time

// Clock stamps documents with insertion sequence numbers and server
// timestamps.
//
// Sequence numbers are strictly increasing. Timestamps have millisecond
// precision and never go backwards, even if the time source does, so the
// store's total order (timestamp, seq) agrees with commit order.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	seq  int64
	last time.Time
	now  TimeSource
}

// NewClock creates a clock reading from now. A nil source uses time.Now.
func NewClock(now TimeSource) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now returns the current server time truncated to milliseconds.
// The result is never earlier than any previously returned value.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := time.UnixMilli(c.now().UnixMilli())
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// resume advances the clock past persisted state.
func (c *Clock) resume(seq int64, last time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.seq {
		c.seq = seq
	}
	if last.After(c.last) {
		c.last = last
	}
}

// stamp is the clock reading shared by every write of one commit.
type stamp struct {
	clock *Clock
	now   time.Time
}

func (s stamp) millis() int64 {
	return s.now.UnixMilli()
}
