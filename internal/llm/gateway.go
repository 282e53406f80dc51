package llm

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qamind/qamind/internal/models"
)

// GatewayConfig holds gateway call behavior.
type GatewayConfig struct {
	// CallTimeout bounds every single provider call.
	CallTimeout time.Duration
	// Retry controls backoff for rate-limit and network failures.
	Retry RetryConfig
	// Preferred is the default primary provider name.
	Preferred string
	// FallbackAnswers maps a detected intent to a canned answer used when
	// every provider is exhausted. Empty map disables the static fallback.
	FallbackAnswers map[string]string
}

// DefaultGatewayConfig returns sensible defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		CallTimeout:     30 * time.Second,
		Retry:           DefaultRetryConfig(),
		FallbackAnswers: map[string]string{},
	}
}

// GatewayMetrics tracks gateway call statistics.
type GatewayMetrics struct {
	Calls     int64
	Failovers int64
	Fallbacks int64
	Exhausted int64
}

// CallObserver receives per-call telemetry. Implementations must not block.
type CallObserver interface {
	CallSucceeded(provider, model string, duration time.Duration)
	CallFailed(provider, model, kind string)
	RetryScheduled(provider, model string)
}

// Gateway tries providers in priority order with per-model fallback lists,
// retrying retryable failures with exponential backoff. It fails with
// AllProvidersFailedError only after every configured provider and model has
// been exhausted.
type Gateway struct {
	providers []Provider
	creds     CredentialStore
	recorder  CallRecorder
	observer  CallObserver
	config    *GatewayConfig
	logger    *logrus.Logger
	metrics   GatewayMetrics
}

// NewGateway creates a gateway over the given providers, in priority order.
func NewGateway(providers []Provider, creds CredentialStore, recorder CallRecorder, config *GatewayConfig, logger *logrus.Logger) *Gateway {
	if config == nil {
		config = DefaultGatewayConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{
		providers: providers,
		creds:     creds,
		recorder:  recorder,
		config:    config,
		logger:    logger,
	}
}

// SetObserver attaches call telemetry. Must be called before Call.
func (g *Gateway) SetObserver(obs CallObserver) {
	g.observer = obs
}

// CallOptions tunes a single gateway call.
type CallOptions struct {
	// Preferred overrides the configured primary provider for this call.
	Preferred string
	// Intent selects the canned fallback answer if all providers fail.
	Intent string
	// ProjectID tags the request for logging.
	ProjectID string
	// Params carries model tuning. The model field is set per attempt from
	// each provider's fallback list.
	Params models.ModelParameters
}

// Call tries every provider/model in order until one succeeds. The returned
// result reports the provider and model used, the total retry count, and
// whether failover or the static fallback was involved.
func (g *Gateway) Call(ctx context.Context, prompt, systemPrompt string, opts CallOptions) (*models.ProviderCallResult, error) {
	preferred := opts.Preferred
	if preferred == "" {
		preferred = g.config.Preferred
	}
	order := g.order(preferred)
	if len(order) > 0 && preferred == "" {
		preferred = order[0].Name()
	}

	var attempts []*ProviderError
	totalRetries := 0

	for _, p := range order {
		if err := g.creds.Validate(p.Name()); err != nil {
			pe := g.toProviderError(err, p.Name(), "")
			attempts = append(attempts, pe)
			g.logger.WithFields(logrus.Fields{
				"provider": p.Name(),
				"project":  opts.ProjectID,
			}).Warn("Skipping provider: missing or malformed API key")
			continue
		}

		for _, model := range p.Models() {
			resp, retries, pe := g.callModel(ctx, p, model, prompt, systemPrompt, opts)
			totalRetries += retries
			if pe == nil {
				atomic.AddInt64(&g.metrics.Calls, 1)
				failover := p.Name() != preferred
				if failover {
					atomic.AddInt64(&g.metrics.Failovers, 1)
				}
				return &models.ProviderCallResult{
					Provider:     p.Name(),
					Model:        model,
					Content:      resp.Content,
					Retries:      totalRetries,
					FailoverUsed: failover,
				}, nil
			}
			attempts = append(attempts, pe)
			g.logger.WithFields(logrus.Fields{
				"provider": p.Name(),
				"model":    model,
				"kind":     pe.Kind,
				"retries":  retries,
			}).Warn("Provider model exhausted")
			if pe.Kind == KindAPIKeyMissing {
				// A bad credential fails the whole provider, not just
				// this model, and never triggers a key swap.
				break
			}
			if ctx.Err() != nil {
				return nil, g.toProviderError(ctx.Err(), p.Name(), model)
			}
		}
	}

	atomic.AddInt64(&g.metrics.Exhausted, 1)
	if answer, ok := g.config.FallbackAnswers[opts.Intent]; ok && answer != "" {
		atomic.AddInt64(&g.metrics.Fallbacks, 1)
		g.logger.WithField("intent", opts.Intent).Warn("All providers exhausted, serving canned fallback")
		return &models.ProviderCallResult{
			Provider:     "fallback",
			Content:      answer,
			Retries:      totalRetries,
			FailoverUsed: true,
			Fallback:     true,
		}, nil
	}
	return nil, &AllProvidersFailedError{Attempts: attempts}
}

// callModel runs the retry loop for one provider/model pair. It returns the
// response on success, or the last classified error with the number of
// retries consumed.
func (g *Gateway) callModel(ctx context.Context, p Provider, model, prompt, systemPrompt string, opts CallOptions) (*models.LLMResponse, int, *ProviderError) {
	retries := 0
	for {
		// Count the call before issuing it so bursts are visible to the
		// rate limiter even while calls are still in flight.
		if g.recorder != nil {
			g.recorder.Record(p.Name())
		}

		req := g.buildRequest(model, prompt, systemPrompt, opts)
		callCtx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
		started := time.Now()
		resp, err := p.Complete(callCtx, model, req)
		cancel()

		if err == nil {
			if resp == nil || strings.TrimSpace(resp.Content) == "" {
				pe := &ProviderError{
					Kind:     KindInvalidResponse,
					Provider: p.Name(),
					Model:    model,
					Err:      errors.New("empty completion payload"),
				}
				g.observeFailure(pe)
				return nil, retries, pe
			}
			if g.observer != nil {
				g.observer.CallSucceeded(p.Name(), model, time.Since(started))
			}
			return resp, retries, nil
		}

		pe := g.toProviderError(err, p.Name(), model)
		if !pe.Retryable() || retries >= g.config.Retry.MaxRetries {
			g.observeFailure(pe)
			return nil, retries, pe
		}
		if g.observer != nil {
			g.observer.RetryScheduled(p.Name(), model)
		}

		delay := g.config.Retry.NextDelay(retries)
		g.logger.WithFields(logrus.Fields{
			"provider": p.Name(),
			"model":    model,
			"kind":     pe.Kind,
			"delay":    delay,
			"attempt":  retries + 1,
		}).Info("Retrying provider call after backoff")
		if err := sleep(ctx, delay); err != nil {
			return nil, retries, pe
		}
		retries++
	}
}

func (g *Gateway) buildRequest(model, prompt, systemPrompt string, opts CallOptions) *models.LLMRequest {
	params := opts.Params
	params.Model = model
	messages := make([]models.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, models.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, models.Message{Role: "user", Content: prompt})
	return &models.LLMRequest{
		ID:          uuid.NewString(),
		ProjectID:   opts.ProjectID,
		Prompt:      prompt,
		Messages:    messages,
		ModelParams: params,
		CreatedAt:   time.Now(),
	}
}

// order returns providers with the preferred provider first and any
// rate-limit-deprioritized providers moved to the back (advisory only).
func (g *Gateway) order(preferred string) []Provider {
	ordered := make([]Provider, 0, len(g.providers))
	for _, p := range g.providers {
		if p.Name() == preferred {
			ordered = append(ordered, p)
		}
	}
	for _, p := range g.providers {
		if p.Name() != preferred {
			ordered = append(ordered, p)
		}
	}
	if g.recorder == nil {
		return ordered
	}
	healthy := make([]Provider, 0, len(ordered))
	var busy []Provider
	for _, p := range ordered {
		if g.recorder.Deprioritized(p.Name()) {
			busy = append(busy, p)
		} else {
			healthy = append(healthy, p)
		}
	}
	return append(healthy, busy...)
}

// Metrics returns a snapshot of gateway call statistics.
func (g *Gateway) Metrics() GatewayMetrics {
	return GatewayMetrics{
		Calls:     atomic.LoadInt64(&g.metrics.Calls),
		Failovers: atomic.LoadInt64(&g.metrics.Failovers),
		Fallbacks: atomic.LoadInt64(&g.metrics.Fallbacks),
		Exhausted: atomic.LoadInt64(&g.metrics.Exhausted),
	}
}

func (g *Gateway) observeFailure(pe *ProviderError) {
	if g.observer != nil {
		g.observer.CallFailed(pe.Provider, pe.Model, string(pe.Kind))
	}
}

func (g *Gateway) toProviderError(err error, provider, model string) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = provider
		}
		if pe.Model == "" {
			pe.Model = model
		}
		return pe
	}
	return ClassifyTransport(provider, model, err)
}
