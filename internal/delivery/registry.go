package delivery

import (
	"sync"
)

// Registry fans values out to subscribers. Each subscriber has a one-slot
// buffer: when it has not consumed the previous value, the new one replaces
// it, so Publish never blocks on a slow reader.
type Registry[T any] struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan T
	last    T
	hasLast bool
	onCount func(int)
}

// NewRegistry creates an empty registry. onCount, if non-nil, is called with
// the subscriber count whenever it changes.
func NewRegistry[T any](onCount func(int)) *Registry[T] {
	return &Registry[T]{
		subs:    make(map[uint64]chan T),
		onCount: onCount,
	}
}

// Subscribe registers a subscriber. The most recently published value, if
// any, is delivered immediately. The returned cancel func unregisters the
// subscriber and closes its channel; it is safe to call more than once.
func (r *Registry[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	if r.hasLast {
		ch <- r.last
	}
	count := len(r.subs)
	r.mu.Unlock()
	r.notifyCount(count)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			if sub, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(sub)
			}
			count := len(r.subs)
			r.mu.Unlock()
			r.notifyCount(count)
		})
	}
	return ch, cancel
}

// Publish delivers v to every subscriber, replacing any value a subscriber
// has not yet received.
func (r *Registry[T]) Publish(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last = v
	r.hasLast = true
	for _, ch := range r.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		// Drop the stale value, then deliver.
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Len returns the number of subscribers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close unregisters every subscriber and closes their channels.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.mu.Unlock()
	r.notifyCount(0)
}

func (r *Registry[T]) notifyCount(n int) {
	if r.onCount != nil {
		r.onCount(n)
	}
}
