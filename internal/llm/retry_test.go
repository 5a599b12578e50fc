package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClient scripts a sequence of Chat outcomes.
type fakeClient struct {
	errs  []error
	calls int
}

func (f *fakeClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	return &Response{Content: "ok"}, nil
}

func (f *fakeClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent)
	close(ch)
	return ch, nil
}

func (f *fakeClient) CountTokens(text string) int { return len(text) }
func (f *fakeClient) Model() string               { return "fake" }

func newTestRetry(inner Client, attempts int) *RetryClient {
	rc := NewRetryClient(inner, attempts, time.Millisecond)
	rc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return rc
}

func TestRetryTransientThenSuccess(t *testing.T) {
	fake := &fakeClient{errs: []error{&RateLimitError{}, &TimeoutError{Wrapped: errors.New("slow")}}}
	rc := newTestRetry(fake, 3)

	resp, err := rc.Chat(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want %q", resp.Content, "ok")
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want 3", fake.calls)
	}
}

func TestRetryPermanentErrorNotRetried(t *testing.T) {
	fake := &fakeClient{errs: []error{&AuthError{Provider: "anthropic"}}}
	rc := newTestRetry(fake, 3)

	_, err := rc.Chat(context.Background(), nil, Options{})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Chat() error = %v, want AuthError", err)
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1", fake.calls)
	}
}

func TestRetryExhaustedReturnsLastError(t *testing.T) {
	fake := &fakeClient{errs: []error{&RateLimitError{}, &RateLimitError{}, &RateLimitError{}}}
	rc := newTestRetry(fake, 3)

	_, err := rc.Chat(context.Background(), nil, Options{})
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("Chat() error = %v, want RateLimitError", err)
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want 3", fake.calls)
	}
}

func TestRetryDelaySchedule(t *testing.T) {
	rc := NewRetryClient(&fakeClient{}, 4, time.Second)

	if d := rc.delayFor(1, errors.New("x")); d != time.Second {
		t.Errorf("delayFor(1) = %v, want 1s", d)
	}
	if d := rc.delayFor(2, errors.New("x")); d != 2*time.Second {
		t.Errorf("delayFor(2) = %v, want 2s", d)
	}
	if d := rc.delayFor(3, errors.New("x")); d != 4*time.Second {
		t.Errorf("delayFor(3) = %v, want 4s", d)
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	rc := NewRetryClient(&fakeClient{}, 3, time.Second)

	lastErr := &RateLimitError{RetryAfter: 30 * time.Second}
	if d := rc.delayFor(1, lastErr); d != 30*time.Second {
		t.Errorf("delayFor with RetryAfter = %v, want 30s", d)
	}
}

func TestRetryCancelledContext(t *testing.T) {
	fake := &fakeClient{errs: []error{&RateLimitError{}, &RateLimitError{}}}
	rc := NewRetryClient(fake, 3, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rc.Chat(ctx, nil, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Chat() error = %v, want context.Canceled", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &RateLimitError{}, true},
		{"timeout", &TimeoutError{Wrapped: errors.New("x")}, true},
		{"auth", &AuthError{Provider: "anthropic"}, false},
		{"cli not found", &CLINotFoundError{Binary: "claude"}, false},
		{"api 500", &APIError{Status: 500}, true},
		{"api 400", &APIError{Status: 400}, false},
		{"api unknown status", &APIError{Status: 0}, true},
		{"untyped 429", errors.New("request failed: 429 Too Many Requests"), true},
		{"untyped overloaded", errors.New("api error: Overloaded"), true},
		{"untyped connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"untyped permanent", errors.New("invalid request body"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantAs  interface{}
		message string
	}{
		{"auth 401", errors.New("401 unauthorized"), new(*AuthError), ""},
		{"auth api key", errors.New("invalid x-api-key"), new(*AuthError), ""},
		{"rate limit", errors.New("429 rate limit exceeded"), new(*RateLimitError), ""},
		{"timeout", errors.New("context deadline exceeded"), new(*TimeoutError), ""},
		{"server error", errors.New("503 service unavailable"), new(*APIError), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyProviderError("anthropic", tt.err)
			switch target := tt.wantAs.(type) {
			case **AuthError:
				if !errors.As(classified, target) {
					t.Errorf("classified %v as %T, want AuthError", tt.err, classified)
				}
			case **RateLimitError:
				if !errors.As(classified, target) {
					t.Errorf("classified %v as %T, want RateLimitError", tt.err, classified)
				}
			case **TimeoutError:
				if !errors.As(classified, target) {
					t.Errorf("classified %v as %T, want TimeoutError", tt.err, classified)
				}
			case **APIError:
				if !errors.As(classified, target) {
					t.Errorf("classified %v as %T, want APIError", tt.err, classified)
				}
			}
		})
	}

	if classifyProviderError("anthropic", nil) != nil {
		t.Error("classifyProviderError(nil) should be nil")
	}
}
