package conversation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/suPer8Hu/matchcore/internal/metrics"
)

// PersistFunc writes the given conversation keys to the durable store.
type PersistFunc func(ctx context.Context, keys ...int64) error

// Flusher persists conversations right after a reply so they have a shorter
// durability window than the periodic sync. It never blocks the sender: a
// full queue drops the request and the next sync tick covers the key.
type Flusher struct {
	persist PersistFunc
	timeout time.Duration
	queue   chan int64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewFlusher(persist PersistFunc, size int, timeout time.Duration) *Flusher {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	f := &Flusher{persist: persist, timeout: timeout, queue: make(chan int64, size)}
	f.wg.Add(1)
	go f.run()
	return f
}

func (f *Flusher) run() {
	defer f.wg.Done()
	for key := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := f.persist(ctx, key); err != nil {
			log.Printf("conversation flush key=%d failed, left for sync err=%v", key, err)
		}
		cancel()
	}
}

// Enqueue asks for key to be persisted. It reports false when the request
// was dropped.
func (f *Flusher) Enqueue(key int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.queue <- key:
		return true
	default:
		metrics.AIFlushDropped.Inc()
		return false
	}
}

// Close drains the queue and stops the worker.
func (f *Flusher) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()
	f.wg.Wait()
}
