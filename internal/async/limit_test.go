package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestLimiterBound(t *testing.T) {
	const limit = 3
	const tasks = 20

	l := NewLimiter(limit)
	var active, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func() error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(peak.Load()), limit)
	assert.Equal(t, 0, l.Active())
	assert.Equal(t, 0, l.Waiting())
}

func TestLimiterFIFOAdmission(t *testing.T) {
	l := NewLimiter(1)

	release := make(chan struct{})
	started := make(chan int, 4)
	var wg sync.WaitGroup

	// Occupy the only slot so later submissions must queue.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.Do(context.Background(), func() error {
			started <- 0
			<-release
			return nil
		})
	}()
	waitFor(t, func() bool { return l.Active() == 1 })

	for i := 1; i <= 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func() error {
				started <- i
				return nil
			})
		}()
		waitFor(t, func() bool { return l.Waiting() == i })
	}

	close(release)
	wg.Wait()

	var order []int
	close(started)
	for id := range started {
		order = append(order, id)
	}
	require.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestLimiterCancelWhileQueued(t *testing.T) {
	l := NewLimiter(1)
	release := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.Do(context.Background(), func() error {
			<-release
			return nil
		})
	}()
	waitFor(t, func() bool { return l.Active() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	ran := false
	go func() {
		errc <- l.Do(ctx, func() error {
			ran = true
			return nil
		})
	}()
	waitFor(t, func() bool { return l.Waiting() == 1 })

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
	assert.False(t, ran, "cancelled task must never run")
	assert.Equal(t, 0, l.Waiting())

	close(release)
	wg.Wait()
}

func TestLimiterSetLimitAdmitsWaiters(t *testing.T) {
	l := NewLimiter(1)
	release := make(chan struct{})
	var running atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func() error {
				running.Add(1)
				<-release
				return nil
			})
		}()
	}
	waitFor(t, func() bool { return l.Waiting() == 2 })

	l.SetLimit(3)
	waitFor(t, func() bool { return running.Load() == 3 })
	assert.Equal(t, 3, l.Active())

	close(release)
	wg.Wait()
}

func TestLimiterClampsBelowOne(t *testing.T) {
	l := NewLimiter(0)
	assert.Equal(t, 1, l.Limit())
	l.SetLimit(-5)
	assert.Equal(t, 1, l.Limit())
}
