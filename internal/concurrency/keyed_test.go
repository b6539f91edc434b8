package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmitSerializesSameKey(t *testing.T) {
	e := NewKeyedExecutor(8)
	defer e.Close()

	var (
		mu      sync.Mutex
		running bool
		overlap bool
	)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Submit(context.Background(), "portfolio-1", func(ctx context.Context) {
				mu.Lock()
				if running {
					overlap = true
				}
				running = true
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				running = false
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	assert.False(t, overlap, "two tasks for the same key ran concurrently")
}

func TestSubmitRunsDistinctKeysConcurrently(t *testing.T) {
	e := NewKeyedExecutor(8)
	defer e.Close()

	var inFlight int32
	var maxInFlight int32
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			e.Submit(context.Background(), key, func(ctx context.Context) {
				n := atomic.AddInt32(&inFlight, 1)
				mu.Lock()
				if n > maxInFlight {
					maxInFlight = n
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
			})
		}(key)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, maxInFlight, int32(2), "expected tasks across distinct keys to overlap")
}

func TestSubmitReturnsOnContextCancel(t *testing.T) {
	e := NewKeyedExecutor(0)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		e.Submit(ctx, "k", func(ctx context.Context) { time.Sleep(time.Hour) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit did not return promptly after context cancellation")
	}
}
