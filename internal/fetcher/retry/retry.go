// Package retry wraps a release.Fetcher with a bounded retry policy for
// transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-watcher/internal/release"
)

// Policy decides how often and how patiently a fetch is retried.
type Policy struct {
	// MaxRetries is the number of fetches made after the first one fails.
	MaxRetries int
	Backoff    time.Duration
	// Retryable reports whether err warrants another attempt. Nil means
	// only release.ErrTimeout is retried.
	Retryable func(err error) bool
}

// DefaultPolicy retries transient failures five times, a minute apart.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 5, Backoff: time.Minute}
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return errors.Is(err, release.ErrTimeout)
}

// Selector reports whether the policy applies to a URL.
type Selector func(url string) bool

// Fetcher applies Policy to URLs accepted by the selector and passes every
// other URL straight through.
type Fetcher struct {
	next    release.Fetcher
	policy  Policy
	applies Selector
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New wraps next. A nil selector applies the policy to every URL.
func New(next release.Fetcher, policy Policy, applies Selector, logger *zap.Logger) *Fetcher {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if applies == nil {
		applies = func(string) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:    next,
		policy:  policy,
		applies: applies,
		logger:  logger,
		sleep:   pause,
	}
}

// Fetch retrieves url, retrying retryable failures. When the attempts run
// out it returns release.ErrUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if !f.applies(url) {
		return f.next.Fetch(ctx, url)
	}

	attempts := 1 + f.policy.MaxRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := f.next.Fetch(ctx, url)
		if err == nil {
			return body, nil
		}
		if !f.policy.retryable(err) {
			return nil, err
		}
		lastErr = err
		f.logger.Warn("transient fetch failure",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
		if attempt == attempts {
			break
		}
		if err := f.sleep(ctx, f.policy.Backoff); err != nil {
			return nil, fmt.Errorf("retry %s: %w", url, err)
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v",
		release.ErrUnavailable, url, attempts, lastErr)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
