package synchronizer

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/user/mapic/pkg/imagegen"
)

// RetryPolicy controls how failed history fetches are retried with
// exponential backoff. Generation and deletion are never retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// OnRetry, if set, is called before sleeping ahead of another attempt.
	OnRetry func(attempt int, err error)

	clock clockwork.Clock
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults:
// 3 attempts, 500ms initial delay, 2x multiplier, 5s max delay.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
}

// WithClock returns a copy of the policy that sleeps on clock.
func (p *RetryPolicy) WithClock(clock clockwork.Clock) *RetryPolicy {
	cp := *p
	cp.clock = clock
	return &cp
}

// ShouldRetry returns true if the error is retryable and the attempt count
// has not exceeded MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return p.isRetryable(err)
}

// isRetryable classifies errors as retryable or permanent. Transport
// failures, 5xx and 429 responses are retryable; other 4xx responses and
// caller-side validation errors are not.
func (p *RetryPolicy) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, imagegen.ErrInvalidInput) {
		return false
	}

	var re *imagegen.RemoteError
	if errors.As(err, &re) && re.Status != 0 {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") {
		return false
	}

	// Default: retryable
	return true
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times, sleeping between retries with
// exponential backoff. Returns nil on success or the last error if all
// attempts fail, the error is non-retryable, or ctx is done.
func (p *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	clock := p.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		select {
		case <-clock.After(p.NextDelay(attempt)):
		case <-ctx.Done():
			return lastErr
		}
	}
	return lastErr
}
