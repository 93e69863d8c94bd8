package batch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPersisterCoalescesBursts(t *testing.T) {
	var saves atomic.Int32
	p := newPersister(30*time.Millisecond, func() { saves.Add(1) })

	for i := 0; i < 20; i++ {
		p.Notify()
		time.Sleep(time.Millisecond)
	}
	assert.Eventually(t, func() bool { return saves.Load() == 1 },
		time.Second, 5*time.Millisecond, "a burst of mutations yields one write")
}

func TestPersisterCloseFlushesPending(t *testing.T) {
	var saves atomic.Int32
	p := newPersister(time.Hour, func() { saves.Add(1) })

	p.Notify()
	p.Close()
	assert.Equal(t, int32(1), saves.Load(), "teardown must not lose the pending write")

	p.Notify()
	p.Flush()
	assert.Equal(t, int32(1), saves.Load(), "closed persister accepts no new work")
}

func TestPersisterFlushWithoutPendingIsNoOp(t *testing.T) {
	var saves atomic.Int32
	p := newPersister(time.Hour, func() { saves.Add(1) })
	p.Flush()
	assert.Zero(t, saves.Load())
}
