package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorKind is the closed set of failure categories a provider call can
// resolve to. Raw transport and SDK errors are classified into one of these
// before crossing a component boundary.
type ErrorKind string

const (
	// KindAPIKeyMissing means the credential is absent or malformed. Never
	// retried for that provider.
	KindAPIKeyMissing ErrorKind = "api_key_missing"
	// KindModelUnavailable means the requested model is not served. Skips
	// remaining retries for that model and advances to the next one.
	KindModelUnavailable ErrorKind = "model_unavailable"
	// KindRateLimit means the provider returned a quota/429 error. Retried
	// with exponential backoff.
	KindRateLimit ErrorKind = "rate_limit"
	// KindInvalidResponse means the provider returned a malformed or empty
	// payload. Hard failure for that model.
	KindInvalidResponse ErrorKind = "invalid_response"
	// KindTimeout means the per-call deadline elapsed. Surfaces immediately
	// to bound latency.
	KindTimeout ErrorKind = "timeout"
	// KindNetwork means a transport-level failure. Retried with the same
	// backoff policy as rate limits.
	KindNetwork ErrorKind = "network"
	// KindGeneric covers everything else.
	KindGeneric ErrorKind = "generic"
)

// ProviderError is a classified failure from a single provider/model attempt.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	Model      string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Model != "" {
		msg = fmt.Sprintf("%s (model %s)", msg, e.Model)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the error warrants retrying the same model.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindNetwork
}

// AllProvidersFailedError is returned when every configured provider and
// model has been exhausted. Attempts holds the ordered per-provider/per-model
// failures for diagnostics.
type AllProvidersFailedError struct {
	Attempts []*ProviderError
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("all providers failed: [%s]", strings.Join(parts, "; "))
}

// ClassifyStatus maps an HTTP status code to a ProviderError.
func ClassifyStatus(provider, model string, status int, body string, retryAfter time.Duration) *ProviderError {
	pe := &ProviderError{
		Provider:   provider,
		Model:      model,
		RetryAfter: retryAfter,
		Err:        fmt.Errorf("HTTP %d: %s", status, truncate(body, 200)),
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe.Kind = KindAPIKeyMissing
	case status == http.StatusNotFound:
		pe.Kind = KindModelUnavailable
	case status == http.StatusTooManyRequests:
		pe.Kind = KindRateLimit
	case status >= 500:
		pe.Kind = KindNetwork
	default:
		pe.Kind = KindGeneric
	}
	return pe
}

// ClassifyTransport maps a transport error (timeouts, connection failures,
// context deadlines) to a ProviderError.
func ClassifyTransport(provider, model string, err error) *ProviderError {
	pe := &ProviderError{Provider: provider, Model: model, Err: err}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		pe.Kind = KindTimeout
	case errors.Is(err, context.Canceled):
		pe.Kind = KindGeneric
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			pe.Kind = KindTimeout
		} else {
			pe.Kind = KindNetwork
		}
	}
	return pe
}

// UserMessage renders a friendly, provider-agnostic message for an error
// that crossed the gateway boundary.
func UserMessage(err error) string {
	var apf *AllProvidersFailedError
	if errors.As(err, &apf) {
		return "All language model providers are currently unavailable. Please try again in a few minutes."
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case KindAPIKeyMissing:
			return "No valid API credentials are configured for the language model provider."
		case KindRateLimit:
			if pe.RetryAfter > 0 {
				return fmt.Sprintf("The provider is rate limiting requests. Retry after %s.", pe.RetryAfter)
			}
			return "The provider is rate limiting requests. Please retry shortly."
		case KindTimeout:
			return "The language model took too long to respond. Please retry."
		}
	}
	return "The request could not be completed. Please try again."
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
