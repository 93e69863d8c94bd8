package async

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"
)

// StatusCoder is implemented by errors that carry an HTTP status, letting
// the classifier see 429/5xx without depending on any vendor error shape.
type StatusCoder interface {
	StatusCode() int
}

// Policy controls how Retry re-executes a failing task.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	// Classify reports whether an error is worth retrying. Nil means
	// DefaultRetryable.
	Classify func(error) bool
	Logger   *slog.Logger
}

// DefaultPolicy mirrors the runner's defaults: three retries starting at
// one second, doubling each attempt.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialDelay: time.Second, BackoffFactor: 2}
}

// Retry runs task, retrying on retryable failures with exponential
// backoff. The final error is returned unchanged: callers must be able to
// inspect the original failure, so nothing is wrapped. A non-retryable
// error returns after the first attempt with zero sleeps.
func Retry(ctx context.Context, p Policy, task func() error) error {
	classify := p.Classify
	if classify == nil {
		classify = DefaultRetryable
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1
	}

	delay := p.InitialDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = task()
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !classify(err) {
			return err
		}
		logger.Warn("async.retry",
			"attempt", attempt+1,
			"remaining", p.MaxRetries-attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if serr := sleep(ctx, delay); serr != nil {
			// Cancelled mid-backoff: surface the task's failure, not the
			// context error, so the item records what actually went wrong.
			return err
		}
		delay = time.Duration(float64(delay) * p.BackoffFactor)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DefaultRetryable retries network-level failures, HTTP 429, HTTP 5xx and
// explicit rate-limit messages. Everything else (auth failures, malformed
// requests, missing keys) fails immediately: retrying a bad credential
// only burns the backoff budget and delays an actionable error.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		status := sc.StatusCode()
		if status == 429 || (status >= 500 && status < 600) {
			return true
		}
		if status >= 400 && status < 500 {
			return false
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"rate limit",
		"too many requests",
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
