package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock(time.Time{}, 0)
	assert.Equal(t, Epoch, clock.Now())
}

func TestDeterministicClock_AdvancesByStep(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewDeterministicClock(start, 10*time.Millisecond)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.Add(10*time.Millisecond), clock.Now())
	assert.Equal(t, start.Add(20*time.Millisecond), clock.Peek())
}

func TestDeterministicClock_AdvanceAndReset(t *testing.T) {
	clock := NewDeterministicClock(time.Time{}, time.Second)

	clock.Advance(time.Minute)
	assert.Equal(t, Epoch.Add(time.Minute), clock.Now())

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestDeterministicClock_ConcurrentReadsAreUnique(t *testing.T) {
	clock := NewDeterministicClock(time.Time{}, time.Millisecond)

	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ts := clock.Now()
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000, "every reading should be distinct")
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("msg")
	assert.Equal(t, "msg-1", g.Generate())
	assert.Equal(t, "msg-2", g.Generate())

	assert.Equal(t, "id-1", NewSequentialIDs("").Generate())
}
