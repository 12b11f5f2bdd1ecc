package synchronizer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
)

// dispatcher runs remote calls off the actor goroutine. Deletes share a
// weighted semaphore so at most maxDeletes hit the service at once; other
// calls are not limited.
type dispatcher struct {
	deletes *semaphore.Weighted
	clock   clockwork.Clock
	active  atomic.Int64
	wg      sync.WaitGroup
}

func newDispatcher(maxDeletes int64, clock clockwork.Clock) *dispatcher {
	if maxDeletes < 1 {
		maxDeletes = 1
	}
	return &dispatcher{
		deletes: semaphore.NewWeighted(maxDeletes),
		clock:   clock,
	}
}

// Go runs fn in its own goroutine.
func (d *dispatcher) Go(fn func()) {
	d.wg.Add(1)
	d.active.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.active.Add(-1)
		fn()
	}()
}

// GoDelete runs fn once a delete slot is free.
func (d *dispatcher) GoDelete(fn func()) {
	d.Go(func() {
		// Acquire only fails when its context is done.
		_ = d.deletes.Acquire(context.Background(), 1)
		defer d.deletes.Release(1)
		fn()
	})
}

// Active returns the number of running calls.
func (d *dispatcher) Active() int64 {
	return d.active.Load()
}

// WaitIdle blocks until no calls are running, or the timeout expires.
// Returns true if idle, false if timed out.
func (d *dispatcher) WaitIdle(timeout time.Duration) bool {
	deadline := d.clock.After(timeout)
	for {
		if d.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-d.clock.After(10 * time.Millisecond):
		}
	}
}

// Wait blocks until every dispatched call has returned.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}
