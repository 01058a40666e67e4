package orchestrator

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/mshibata0117/gitlab-mirror-manager/internal/errors"
)

// Config holds the pacing parameters for one batch run, drawn from the
// GITLAB_API_DELAY_MS / GITLAB_API_MAX_RETRIES environment configuration.
type Config struct {
	Delay      time.Duration
	MaxRetries int
}

// Metrics is a read-only snapshot of rate limiter activity
type Metrics struct {
	CallsMade           int
	RetriesPerformed    int
	TotalWait           time.Duration
	OperationsPerSecond float64
}

// attemptState tags one pass through the retry loop. The loop is an explicit
// state iteration so that the retry-everything policy is visible in one
// place rather than hidden in error plumbing.
type attemptState int

const (
	attemptSucceeded attemptState = iota
	attemptFailed
)

// RateLimiter bounds the rate of outbound calls to a single GitLab instance
// and retries transient failures. One limiter is constructed per batch run
// and never shared across concurrent batches.
type RateLimiter struct {
	delay      time.Duration
	maxRetries int

	mu               sync.Mutex
	callsMade        int
	retriesPerformed int
	totalWait        time.Duration
	trackingSince    time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a rate limiter with the given inter-call delay and
// retry budget. Zero values are legal: zero delay degenerates to no-op
// pacing, zero retries means a single attempt per operation.
func NewRateLimiter(delay time.Duration, maxRetries int) (*RateLimiter, error) {
	if delay < 0 {
		return nil, apperrors.NewConfigurationError("rate limiter delay must be non-negative")
	}
	if maxRetries < 0 {
		return nil, apperrors.NewConfigurationError("rate limiter max retries must be non-negative")
	}
	return &RateLimiter{
		delay:      delay,
		maxRetries: maxRetries,
		now:        time.Now,
		sleep:      contextSleep,
	}, nil
}

// contextSleep waits for d without blocking the thread, honoring context
// cancellation
func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// StartTracking begins the measurement window for Metrics. Calling it again
// resets the window.
func (r *RateLimiter) StartTracking() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackingSince = r.now()
}

// Delay suspends the caller for the configured inter-item delay. Callers
// invoke it between items, never before the first or after the last item of
// a batch.
func (r *RateLimiter) Delay(ctx context.Context) error {
	start := r.now()
	err := r.sleep(ctx, r.delay)

	r.mu.Lock()
	r.totalWait += r.now().Sub(start)
	r.mu.Unlock()
	return err
}

// ExecuteWithRetry invokes op and retries it up to the configured budget,
// waiting the configured delay between attempts. Every failure is treated as
// retryable; error classes are not distinguished. Once retries are exhausted
// the last error is returned wrapped in an EXHAUSTED_RETRIES error tagged
// with name. A context cancellation during a backoff wait stops the loop and
// propagates immediately.
func (r *RateLimiter) ExecuteWithRetry(ctx context.Context, name string, op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.mu.Lock()
			r.retriesPerformed++
			r.mu.Unlock()

			start := r.now()
			err := r.sleep(ctx, r.delay)
			r.mu.Lock()
			r.totalWait += r.now().Sub(start)
			r.mu.Unlock()
			if err != nil {
				return err
			}
		}

		r.mu.Lock()
		r.callsMade++
		r.mu.Unlock()

		state := attemptSucceeded
		if err := op(); err != nil {
			state = attemptFailed
			lastErr = err
		}
		if state == attemptSucceeded {
			return nil
		}
	}

	return apperrors.NewExhaustedRetriesError(name, r.maxRetries+1, lastErr)
}

// Metrics returns a snapshot of limiter activity. Operations per second is 0
// when tracking never started or no time has elapsed.
func (r *RateLimiter) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Metrics{
		CallsMade:        r.callsMade,
		RetriesPerformed: r.retriesPerformed,
		TotalWait:        r.totalWait,
	}
	if !r.trackingSince.IsZero() {
		if elapsed := r.now().Sub(r.trackingSince).Seconds(); elapsed > 0 {
			m.OperationsPerSecond = float64(r.callsMade) / elapsed
		}
	}
	return m
}
