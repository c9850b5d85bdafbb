// Package reliability classifies provider failures and computes retry
// backoff. Provider errors are session-scoped: a failed turn is discarded and
// the session keeps running.
package reliability

import (
	"fmt"
	"time"
)

// ProviderError reports a capability provider (stt, llm, tts) call failure.
type ProviderError struct {
	Provider  string
	Code      string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("%s provider: %s", e.Provider, e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err with provider attribution and retry class.
func NewProviderError(provider, code string, retryable bool, err error) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Retryable: retryable, Err: err}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeMessageType classifies retryable upstream realtime errors.
func IsRetryableRealtimeMessageType(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
