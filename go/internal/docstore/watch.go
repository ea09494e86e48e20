package docstore

import "sync"

// Watch is a live subscription. Changes yields the newest undelivered value; a slow
// reader skips intermediate snapshots but always sees the latest one. The channel is
// closed by Stop.
type Watch[T any] struct {
	ch     chan T
	mu     sync.Mutex
	closed bool
	once   sync.Once
	stopFn func()
}

// NewWatch returns a watch that runs stop once when the subscriber stops it.
func NewWatch[T any](stop func()) *Watch[T] {
	return &Watch[T]{
		ch:     make(chan T, 1),
		stopFn: stop,
	}
}

// Changes returns the delivery channel.
func (w *Watch[T]) Changes() <-chan T {
	return w.ch
}

// Push delivers v, replacing any value the subscriber has not received yet.
// Push never blocks and is a no-op after Stop.
func (w *Watch[T]) Push(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case <-w.ch:
	default:
	}
	w.ch <- v
}

// Stop ends the subscription. It is safe to call more than once.
func (w *Watch[T]) Stop() {
	w.once.Do(func() {
		if w.stopFn != nil {
			w.stopFn()
		}
		w.mu.Lock()
		w.closed = true
		close(w.ch)
		w.mu.Unlock()
	})
}
