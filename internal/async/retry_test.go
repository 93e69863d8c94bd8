package async

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string   { return fmt.Sprintf("status %d: %s", e.status, e.msg) }
func (e *httpError) StatusCode() int { return e.status }

func TestRetryEventuallySucceedsOn429(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), Policy{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}, func() error {
		attempts++
		if attempts < 3 {
			return &httpError{status: 429, msg: "too many requests"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryFailsFastOn401(t *testing.T) {
	authErr := &httpError{status: 401, msg: "invalid api key"}
	attempts := 0
	err := Retry(context.Background(), Policy{MaxRetries: 5, InitialDelay: time.Millisecond, BackoffFactor: 2}, func() error {
		attempts++
		return authErr
	})
	assert.Equal(t, 1, attempts, "non-retryable errors get exactly one attempt")
	// Identity, not just equivalence: the caller records this error verbatim.
	assert.Same(t, authErr, err)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	last := &httpError{status: 503, msg: "upstream sad"}
	attempts := 0
	err := Retry(context.Background(), Policy{MaxRetries: 2, InitialDelay: time.Millisecond, BackoffFactor: 2}, func() error {
		attempts++
		return last
	})
	assert.Equal(t, 3, attempts)
	assert.Same(t, last, err)
}

func TestRetryBackoffGrowth(t *testing.T) {
	var stamps []time.Time
	_ = Retry(context.Background(), Policy{MaxRetries: 3, InitialDelay: 50 * time.Millisecond, BackoffFactor: 2}, func() error {
		stamps = append(stamps, time.Now())
		return &httpError{status: 500, msg: "boom"}
	})
	require.Len(t, stamps, 4)

	gap1 := stamps[1].Sub(stamps[0])
	gap2 := stamps[2].Sub(stamps[1])
	gap3 := stamps[3].Sub(stamps[2])

	// Scheduler tolerance: gaps must be at least the configured delay and
	// each roughly double the previous one.
	assert.GreaterOrEqual(t, gap1, 50*time.Millisecond)
	assert.GreaterOrEqual(t, gap2, 100*time.Millisecond)
	assert.GreaterOrEqual(t, gap3, 200*time.Millisecond)
	assert.Less(t, gap1, 90*time.Millisecond)
	assert.Less(t, gap2, 180*time.Millisecond)
	assert.Less(t, gap3, 360*time.Millisecond)
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	taskErr := &httpError{status: 500, msg: "boom"}
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, Policy{MaxRetries: 5, InitialDelay: 10 * time.Second, BackoffFactor: 2}, func() error {
		attempts++
		return taskErr
	})
	assert.Equal(t, 1, attempts)
	assert.Same(t, taskErr, err, "the task failure wins over the context error")
}

func TestDefaultRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", &httpError{status: 429, msg: "slow down"}, true},
		{"http 500", &httpError{status: 500, msg: "oops"}, true},
		{"http 503", &httpError{status: 503, msg: "unavailable"}, true},
		{"http 401", &httpError{status: 401, msg: "bad key"}, false},
		{"http 400", &httpError{status: 400, msg: "malformed"}, false},
		{"rate limit message", errors.New("openai: rate limit exceeded"), true},
		{"too many requests message", errors.New("Too Many Requests"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"plain failure", errors.New("invalid model id"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DefaultRetryable(tc.err))
		})
	}
}
