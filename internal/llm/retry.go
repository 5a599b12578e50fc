package llm

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = time.Second
)

// RetryClient wraps a Client with exponential backoff on transient
// failures. Permanent errors (auth, bad request, missing CLI) surface
// immediately. Streams are not retried: a stream that has emitted events
// cannot be restarted transparently.
type RetryClient struct {
	inner    Client
	attempts int
	base     time.Duration

	// sleep is replaceable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Client = (*RetryClient)(nil)

// WithRetry wraps client with the default retry policy.
func WithRetry(client Client) *RetryClient {
	return NewRetryClient(client, defaultRetryAttempts, defaultRetryBase)
}

// NewRetryClient wraps client with an explicit retry policy.
func NewRetryClient(client Client, attempts int, base time.Duration) *RetryClient {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = defaultRetryBase
	}
	return &RetryClient{
		inner:    client,
		attempts: attempts,
		base:     base,
		sleep:    sleepCtx,
	}
}

// Model returns the wrapped client's model.
func (c *RetryClient) Model() string { return c.inner.Model() }

// CountTokens delegates to the wrapped client.
func (c *RetryClient) CountTokens(text string) int { return c.inner.CountTokens(text) }

// Chat calls the wrapped client, retrying transient failures.
func (c *RetryClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.delayFor(attempt, lastErr)); err != nil {
				return nil, err
			}
		}
		resp, err := c.inner.Chat(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// ChatStream passes through without retry.
func (c *RetryClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error) {
	return c.inner.ChatStream(ctx, messages, opts)
}

// delayFor computes the backoff before retry number attempt (1-based).
// A provider-supplied Retry-After wins over the exponential schedule.
func (c *RetryClient) delayFor(attempt int, lastErr error) time.Duration {
	var rateLimit *RateLimitError
	if errors.As(lastErr, &rateLimit) && rateLimit.RetryAfter > 0 {
		return rateLimit.RetryAfter
	}
	delay := c.base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
