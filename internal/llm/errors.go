package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthError means the provider rejected our credentials. Never retried.
type AuthError struct {
	Provider string
	Hint     string
}

func (e *AuthError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s authentication failed: %s", e.Provider, e.Hint)
	}
	return fmt.Sprintf("%s authentication failed", e.Provider)
}

// RateLimitError means the provider throttled us. Retried with backoff,
// honoring RetryAfter when the provider supplied one.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// TimeoutError means the call exceeded its deadline. Retried.
type TimeoutError struct {
	Wrapped error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("llm call timed out: %v", e.Wrapped) }
func (e *TimeoutError) Unwrap() error { return e.Wrapped }

// APIError is any other provider-side failure.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm api error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("llm api error: %s", e.Message)
}

// CLINotFoundError means the configured CLI binary is not installed.
// Never retried; the caller should surface the install hint.
type CLINotFoundError struct {
	Binary string
	Hint   string
}

func (e *CLINotFoundError) Error() string {
	return fmt.Sprintf("%s CLI not found in PATH: %s", e.Binary, e.Hint)
}

// CLIError means the CLI subprocess exited abnormally.
type CLIError struct {
	ExitCode int
	Stderr   string
}

func (e *CLIError) Error() string {
	return fmt.Sprintf("llm CLI exited with code %d: %s", e.ExitCode, e.Stderr)
}

// IsTransient reports whether err is worth retrying. Typed errors decide
// directly; untyped errors fall back to substring classification since
// providers are inconsistent about error shapes.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var rateLimit *RateLimitError
	var timeout *TimeoutError
	if errors.As(err, &rateLimit) || errors.As(err, &timeout) {
		return true
	}
	var auth *AuthError
	var notFound *CLINotFoundError
	if errors.As(err, &auth) || errors.As(err, &notFound) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == 429 || apiErr.Status == 0
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "overloaded", "500", "502", "503", "504",
		"connection refused", "connection reset", "timeout", "deadline exceeded", "temporarily unavailable"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classifyProviderError converts a raw provider error into the typed
// taxonomy by inspecting its text. Providers bury status codes in strings.
func classifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "authentication") || strings.Contains(msg, "api key"):
		return &AuthError{Provider: provider, Hint: err.Error()}
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return &RateLimitError{}
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return &TimeoutError{Wrapped: err}
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "overloaded"):
		return &APIError{Status: 500, Message: err.Error()}
	case strings.Contains(msg, "404"):
		return &APIError{Status: 404, Message: err.Error()}
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid"):
		return &APIError{Status: 400, Message: err.Error()}
	default:
		return &APIError{Message: err.Error()}
	}
}
