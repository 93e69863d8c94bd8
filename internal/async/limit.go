// Package async holds the two scheduling primitives the batch runner is
// built on: a FIFO bounded-concurrency limiter and a classification-driven
// retry wrapper. Both keep their state explicit so the invariants
// (admission order, active count, backoff growth) are testable in isolation.
package async

import (
	"container/list"
	"context"
	"sync"
)

// Limiter admits at most Limit() tasks at a time. Excess callers queue in
// FIFO order and are admitted as running slots free up. Nothing is
// memoized: every Do call runs its task exactly once.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiters *list.List // of chan struct{}
}

// NewLimiter returns a limiter admitting at most n concurrent tasks.
// Values below 1 are clamped to 1.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{limit: n, waiters: list.New()}
}

// Do runs task once admission is granted and releases the slot when it
// returns. If ctx is cancelled while queued, the task never runs and
// ctx.Err() is returned.
func (l *Limiter) Do(ctx context.Context, task func() error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()
	return task()
}

func (l *Limiter) acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.active < l.limit {
		l.active++
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// Admission raced the cancellation; give the slot back.
			l.mu.Unlock()
			l.release()
			return ctx.Err()
		default:
			l.waiters.Remove(elem)
			l.mu.Unlock()
			return ctx.Err()
		}
	}
}

func (l *Limiter) release() {
	l.mu.Lock()
	l.active--
	l.admitLocked()
	l.mu.Unlock()
}

// admitLocked hands freed slots to the oldest waiters. Caller holds mu.
func (l *Limiter) admitLocked() {
	for l.active < l.limit && l.waiters.Len() > 0 {
		front := l.waiters.Front()
		l.waiters.Remove(front)
		l.active++
		close(front.Value.(chan struct{}))
	}
}

// SetLimit changes the concurrency bound. Raising it admits queued waiters
// immediately; lowering it lets running tasks keep their slots and bites
// only on future admissions.
func (l *Limiter) SetLimit(n int) {
	if n < 1 {
		n = 1
	}
	l.mu.Lock()
	l.limit = n
	l.admitLocked()
	l.mu.Unlock()
}

// Limit returns the current concurrency bound.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Active returns the number of tasks currently holding a slot.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Waiting returns the number of queued admission requests.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}
