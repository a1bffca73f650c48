// Package watch layers change notification on top of a channel: the
// segment itself carries no wakeup primitive, so a Watcher polls the
// header's generation counter and hands freshly committed values to
// subscriber callbacks on a shared goroutine pool.
package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/shm-channel/pkg/channel"
	"github.com/srediag/shm-channel/pkg/codec"
)

const (
	defaultInterval = time.Millisecond
	defaultPoolSize = 4
)

// Handler consumes one committed value. Handlers run on the watcher's
// pool and must not retain the array past their return if they want
// to avoid holding memory; the array itself is an independent copy
// and never aliases the segment.
type Handler[T codec.Element] func(codec.Array[T])

// Watcher polls a channel's generation counter and fans out every
// newly observed value to its subscribers. It is a reader: it never
// writes to the segment and tolerates the writer process restarting.
type Watcher[T codec.Element] struct {
	ch       *channel.Channel[T]
	pool     *ants.Pool
	interval time.Duration

	mu       sync.Mutex
	handlers map[int]Handler[T]
	nextID   int

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a Watcher over ch. interval is the poll period (default
// 1ms) and poolSize bounds concurrently running handlers (default 4).
func New[T codec.Element](ch *channel.Channel[T], interval time.Duration, poolSize int) (*Watcher[T], error) {
	if interval <= 0 {
		interval = defaultInterval
	}
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	return &Watcher[T]{
		ch:       ch,
		pool:     pool,
		interval: interval,
		handlers: make(map[int]Handler[T]),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Subscribe registers h and returns a cancel function that removes
// it. Subscribing after Close is a no-op.
func (w *Watcher[T]) Subscribe(h Handler[T]) (cancel func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = h
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Start launches the poll loop. It returns immediately; the loop runs
// until Close or until ctx is done. Calling Start twice is a no-op.
func (w *Watcher[T]) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Watcher[T]) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// The generation moves twice per write, so any commit lands on a
	// value we have not seen; a spurious wakeup mid-write only costs
	// one extra read.
	lastGen := w.ch.Generation()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		gen := w.ch.Generation()
		if gen == lastGen {
			continue
		}
		lastGen = gen

		value, err := w.ch.Read(ctx)
		if err != nil {
			continue
		}
		w.dispatch(value)
	}
}

func (w *Watcher[T]) dispatch(value codec.Array[T]) {
	w.mu.Lock()
	handlers := make([]Handler[T], 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h := h
		// Submit blocks when the pool is saturated, which throttles
		// dispatch instead of piling up goroutines.
		_ = w.pool.Submit(func() { h(value) })
	}
}

// Close stops the poll loop, waits for it to exit and releases the
// pool. In-flight handlers finish; queued ones may be dropped once
// the pool is released.
func (w *Watcher[T]) Close() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.started.Load() {
			<-w.done
		}
		w.pool.Release()
	})
}
