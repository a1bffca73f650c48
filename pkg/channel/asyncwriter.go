package channel

import (
	"context"
	"sync"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/srediag/shm-channel/pkg/codec"
)

// AsyncWriter funnels payloads from any number of goroutines through
// a single background writer, preserving the channel's single-writer
// precondition within a process. Values are committed in Publish
// order, so after the queue drains the channel holds the most
// recently published value.
type AsyncWriter[T codec.Element] struct {
	ch *Channel[T]
	q  *queue.Queue

	pending sync.WaitGroup
	done    chan struct{}

	mu      sync.Mutex
	lastErr error
}

// NewAsyncWriter starts the writer goroutine. hint sizes the internal
// queue's initial allocation.
func NewAsyncWriter[T codec.Element](ch *Channel[T], hint int) *AsyncWriter[T] {
	if hint <= 0 {
		hint = 16
	}
	w := &AsyncWriter[T]{
		ch:   ch,
		q:    queue.New(int64(hint)),
		done: make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *AsyncWriter[T]) drain() {
	defer close(w.done)
	for {
		items, err := w.q.Get(64)
		if err != nil {
			// Disposed: flush is over.
			return
		}
		for _, item := range items {
			value := item.(codec.Array[T])
			if err := w.ch.Write(context.Background(), value); err != nil {
				w.mu.Lock()
				w.lastErr = err
				w.mu.Unlock()
			}
			w.pending.Done()
		}
	}
}

// Publish enqueues value for the writer goroutine. It fails once the
// writer has been closed.
func (w *AsyncWriter[T]) Publish(value codec.Array[T]) error {
	w.pending.Add(1)
	if err := w.q.Put(value); err != nil {
		w.pending.Done()
		return err
	}
	return nil
}

// Err returns the most recent write failure observed by the writer
// goroutine, if any.
func (w *AsyncWriter[T]) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Close waits for every already-published value to be committed, then
// stops the writer goroutine. Producers must be quiescent before
// Close; a Publish racing with Close may be rejected. The underlying
// Channel is not closed.
func (w *AsyncWriter[T]) Close() error {
	w.pending.Wait()
	w.q.Dispose()
	<-w.done
	return w.Err()
}
