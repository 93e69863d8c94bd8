package batch

import (
	"sync"
	"time"
)

// persister coalesces bursts of mutations into one durable write. It
// keeps explicit pending-write state: each Notify cancels and reschedules
// the flush timer, Flush writes immediately if a write is pending, and
// Close flushes before shutting down so no mutation is lost on teardown.
type persister struct {
	mu      sync.Mutex
	delay   time.Duration
	save    func()
	timer   *time.Timer
	pending bool
	closed  bool
}

func newPersister(delay time.Duration, save func()) *persister {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &persister{delay: delay, save: save}
}

// Notify records that state changed and (re)schedules a flush.
func (p *persister) Notify() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.delay, p.Flush)
}

// Flush performs the pending write, if any, synchronously.
func (p *persister) Flush() {
	p.mu.Lock()
	if !p.pending {
		p.mu.Unlock()
		return
	}
	p.pending = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	// The save callback serializes the full current snapshot itself, so a
	// reader of the store never observes a partial write.
	p.save()
}

// Close flushes any pending write and stops accepting notifications.
func (p *persister) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Flush()
}
