// Package llm provides the multi-provider call gateway: ordered provider
// failover, per-model fallback lists, exponential-backoff retry, and a
// classified error taxonomy.
package llm

import (
	"context"
	"strings"

	"github.com/qamind/qamind/internal/models"
)

// Provider is a single LLM backend. Adapters translate provider-specific
// wire formats and classify failures into ProviderError before returning.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string
	// Models returns the ordered model fallback list for this provider.
	Models() []string
	// Complete issues one completion call for the given model.
	Complete(ctx context.Context, model string, req *models.LLMRequest) (*models.LLMResponse, error)
}

// CredentialStore supplies per-provider API credentials. Validate returns a
// ProviderError of kind KindAPIKeyMissing when the credential is absent or
// malformed.
type CredentialStore interface {
	Validate(provider string) error
}

// StaticCredentials is an in-memory CredentialStore keyed by provider name.
type StaticCredentials map[string]string

// Validate checks that a non-empty, well-formed key exists for the provider.
func (s StaticCredentials) Validate(provider string) error {
	key, ok := s[provider]
	if !ok || strings.TrimSpace(key) == "" {
		return &ProviderError{Kind: KindAPIKeyMissing, Provider: provider}
	}
	if strings.ContainsAny(key, " \t\n") {
		return &ProviderError{Kind: KindAPIKeyMissing, Provider: provider}
	}
	return nil
}

// CallRecorder observes provider calls and advises the gateway on ordering.
// Implemented by ratelimit.Tracker.
type CallRecorder interface {
	// Record counts one call against the provider's sliding window. Called
	// before the call is issued so bursts are visible immediately.
	Record(provider string)
	// Deprioritized reports whether the provider should be moved to the
	// back of the try order.
	Deprioritized(provider string) bool
}
